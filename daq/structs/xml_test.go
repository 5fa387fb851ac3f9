// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"strings"
	"testing"

	"github.com/attpc/daqctl/ci"
	"github.com/shoenig/test/must"
)

func TestConfigID_XMLRoundTrip(t *testing.T) {
	ci.Parallel(t)

	cases := []*ConfigID{
		{Describe: "a", Prepare: "b", Configure: "c"},
		{Describe: "cobo_2020", Prepare: "cobo_2020", Configure: "cobo_2020_fast"},
		{Describe: "", Prepare: "", Configure: ""},
	}

	for _, c := range cases {
		doc, err := c.XML()
		must.NoError(t, err)

		parsed, err := ParseConfigID(doc)
		must.NoError(t, err)
		must.True(t, c.SameTriple(parsed))
	}
}

func TestParseConfigID(t *testing.T) {
	ci.Parallel(t)

	doc := `<ConfigId>` +
		`<SubConfigId type="describe">a</SubConfigId>` +
		`<SubConfigId type="prepare">b</SubConfigId>` +
		`<SubConfigId type="configure">c</SubConfigId>` +
		`</ConfigId>`

	c, err := ParseConfigID(doc)
	must.NoError(t, err)
	must.Eq(t, "a", c.Describe)
	must.Eq(t, "b", c.Prepare)
	must.Eq(t, "c", c.Configure)
	must.Eq(t, "a/b/c", c.String())
}

func TestParseConfigID_WrongRoot(t *testing.T) {
	ci.Parallel(t)

	_, err := ParseConfigID(`<NotAConfigId></NotAConfigId>`)
	must.Error(t, err)

	var malformed *MalformedXMLError
	must.True(t, errors.As(err, &malformed))
}

func TestParseConfigID_UnknownType(t *testing.T) {
	ci.Parallel(t)

	doc := `<ConfigId><SubConfigId type="bogus">a</SubConfigId></ConfigId>`
	_, err := ParseConfigID(doc)
	must.Error(t, err)

	var unknown *UnknownConfigTypeError
	must.True(t, errors.As(err, &unknown))
	must.Eq(t, "bogus", unknown.Type)
}

func TestParseConfigIDList(t *testing.T) {
	ci.Parallel(t)

	doc := `<ConfigIdList>` +
		`<ConfigId>` +
		`<SubConfigId type="describe">a</SubConfigId>` +
		`<SubConfigId type="prepare">b</SubConfigId>` +
		`<SubConfigId type="configure">c</SubConfigId>` +
		`</ConfigId>` +
		`<ConfigId>` +
		`<SubConfigId type="describe">x</SubConfigId>` +
		`<SubConfigId type="prepare">y</SubConfigId>` +
		`<SubConfigId type="configure">z</SubConfigId>` +
		`</ConfigId>` +
		`</ConfigIdList>`

	configs, err := ParseConfigIDList(doc)
	must.NoError(t, err)
	must.Len(t, 2, configs)
	must.Eq(t, "a/b/c", configs[0].String())
	must.Eq(t, "x/y/z", configs[1].String())
}

func TestParseConfigIDList_Empty(t *testing.T) {
	ci.Parallel(t)

	configs, err := ParseConfigIDList(`<ConfigIdList></ConfigIdList>`)
	must.NoError(t, err)
	must.Len(t, 0, configs)
}

func TestDataLinkSetXML(t *testing.T) {
	ci.Parallel(t)

	doc, err := DataLinkSetXML([]DataLink{
		{
			SenderID:   "CoBo[0]",
			RouterName: "dr0",
			RouterIP:   "10.0.0.1",
			RouterPort: 46005,
			RouterType: RouterTypeTCP,
		},
	})
	must.NoError(t, err)

	must.StrContains(t, doc, `<DataLinkSet>`)
	must.StrContains(t, doc, `<DataSender id="CoBo[0]">`)
	must.StrContains(t, doc, `<DataRouter name="dr0" ipAddress="10.0.0.1" port="46005" type="TCP">`)
	must.Eq(t, 1, strings.Count(doc, "<DataLink>"))
}

func TestDataLinkSetXML_MultipleSources(t *testing.T) {
	ci.Parallel(t)

	links := []DataLink{
		{SenderID: "CoBo[0]", RouterName: "dr0", RouterIP: "10.0.0.1", RouterPort: 46005, RouterType: RouterTypeTCP},
		{SenderID: "CoBo[1]", RouterName: "dr1", RouterIP: "10.0.0.2", RouterPort: 46005, RouterType: RouterTypeICE},
		{SenderID: "Mutant[master]", RouterName: "drm", RouterIP: "10.0.0.3", RouterPort: 46005, RouterType: RouterTypeFDT},
	}
	doc, err := DataLinkSetXML(links)
	must.NoError(t, err)
	must.Eq(t, 3, strings.Count(doc, "<DataLink>"))
	for _, l := range links {
		must.StrContains(t, doc, `id="`+l.SenderID+`"`)
	}
}

func TestDataLinkSetXML_InvalidType(t *testing.T) {
	ci.Parallel(t)

	_, err := DataLinkSetXML([]DataLink{
		{SenderID: "CoBo[0]", RouterName: "dr0", RouterIP: "10.0.0.1", RouterPort: 46005, RouterType: "UDP"},
	})
	must.Error(t, err)
}
