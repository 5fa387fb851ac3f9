// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	memdb "github.com/hashicorp/go-memdb"
)

// Table names used by the state store.
const (
	TableECCServers  = "ecc_servers"
	TableDataRouters = "data_routers"
	TableDataSources = "data_sources"
	TableConfigIDs   = "config_ids"
	TableExperiments = "experiments"
	TableRuns        = "runs"
	TableObservables = "observables"
	TableMeasurement = "measurements"

	tableIndex = "index"
)

// Index names.
const (
	indexID         = "id"
	indexName       = "name"
	indexEccServer  = "ecc_server"
	indexRouter     = "data_router"
	indexExperiment = "experiment"
	indexRun        = "run"
	indexObsRun     = "observable_run"
	indexObservable = "observable"
)

// stateStoreSchema assembles the full memdb schema.
func stateStoreSchema() *memdb.DBSchema {
	db := &memdb.DBSchema{
		Tables: make(map[string]*memdb.TableSchema),
	}

	factories := []func() *memdb.TableSchema{
		indexTableSchema,
		eccServerTableSchema,
		dataRouterTableSchema,
		dataSourceTableSchema,
		configIDTableSchema,
		experimentTableSchema,
		runTableSchema,
		observableTableSchema,
		measurementTableSchema,
	}

	for _, factory := range factories {
		schema := factory()
		if _, ok := db.Tables[schema.Name]; ok {
			panic("duplicate table name: " + schema.Name)
		}
		db.Tables[schema.Name] = schema
	}
	return db
}

// indexTableSchema tracks the last modify index of every table.
func indexTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableIndex,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Key",
					Lowercase: true,
				},
			},
		},
	}
}

func eccServerTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableECCServers,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexName: {
				Name:         indexName,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Name"},
			},
			indexExperiment: {
				Name:         indexExperiment,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "ExperimentID"},
			},
		},
	}
}

func dataRouterTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableDataRouters,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexName: {
				Name:         indexName,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Name"},
			},
			indexExperiment: {
				Name:         indexExperiment,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "ExperimentID"},
			},
		},
	}
}

func dataSourceTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableDataSources,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexName: {
				Name:         indexName,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Name"},
			},
			// Weak references; zero when the target has been deleted.
			indexEccServer: {
				Name:         indexEccServer,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "EccServerID"},
			},
			indexRouter: {
				Name:         indexRouter,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "DataRouterID"},
			},
		},
	}
}

func configIDTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableConfigIDs,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexEccServer: {
				Name:         indexEccServer,
				AllowMissing: true,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "EccServerID"},
			},
		},
	}
}

func experimentTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableExperiments,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexName: {
				Name:         indexName,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.StringFieldIndex{Field: "Name"},
			},
		},
	}
}

func runTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableRuns,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexExperiment: {
				Name:         indexExperiment,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "ExperimentID"},
			},
			// Run numbers are unique within an experiment.
			indexRun: {
				Name:         indexRun,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.UintFieldIndex{Field: "ExperimentID"},
						&memdb.IntFieldIndex{Field: "RunNumber"},
					},
				},
			},
		},
	}
}

func observableTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableObservables,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			indexExperiment: {
				Name:         indexExperiment,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "ExperimentID"},
			},
		},
	}
}

func measurementTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableMeasurement,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.UintFieldIndex{Field: "ID"},
			},
			// At most one measurement per (observable, run).
			indexObsRun: {
				Name:         indexObsRun,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.UintFieldIndex{Field: "ObservableID"},
						&memdb.UintFieldIndex{Field: "RunID"},
					},
				},
			},
			indexRun: {
				Name:         indexRun,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "RunID"},
			},
			indexObservable: {
				Name:         indexObservable,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.UintFieldIndex{Field: "ObservableID"},
			},
		},
	}
}
