// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// The ECC wire formats. Every transition call carries two string payloads:
// the selected ConfigId serialized as XML and a DataLinkSet enumerating the
// sender/router pairs the server drives. GetConfigIDs replies with a
// ConfigIdList in the same ConfigId format.

type subConfigIDElem struct {
	XMLName xml.Name `xml:"SubConfigId"`
	Type    string   `xml:"type,attr"`
	Name    string   `xml:",chardata"`
}

type configIDElem struct {
	XMLName xml.Name          `xml:"ConfigId"`
	Subs    []subConfigIDElem `xml:"SubConfigId"`
}

type configIDListElem struct {
	XMLName xml.Name       `xml:"ConfigIdList"`
	Configs []configIDElem `xml:"ConfigId"`
}

// XML serializes the config triple in the format the ECC server expects:
//
//	<ConfigId>
//	  <SubConfigId type="describe">NAME</SubConfigId>
//	  <SubConfigId type="prepare">NAME</SubConfigId>
//	  <SubConfigId type="configure">NAME</SubConfigId>
//	</ConfigId>
func (c *ConfigID) XML() (string, error) {
	elem := configIDElem{
		Subs: []subConfigIDElem{
			{Type: "describe", Name: c.Describe},
			{Type: "prepare", Name: c.Prepare},
			{Type: "configure", Name: c.Configure},
		},
	}
	out, err := xml.Marshal(elem)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func configIDFromElem(elem configIDElem) (*ConfigID, error) {
	c := &ConfigID{}
	for _, sub := range elem.Subs {
		switch sub.Type {
		case "describe":
			c.Describe = sub.Name
		case "prepare":
			c.Prepare = sub.Name
		case "configure":
			c.Configure = sub.Name
		default:
			return nil, &UnknownConfigTypeError{Type: sub.Type}
		}
	}
	return c, nil
}

// ParseConfigID parses a single ConfigId document. The root element must be
// ConfigId and each SubConfigId must carry a known type attribute.
func ParseConfigID(doc string) (*ConfigID, error) {
	var elem configIDElem
	if err := xml.Unmarshal([]byte(doc), &elem); err != nil {
		return nil, &MalformedXMLError{Want: "ConfigId", Err: err}
	}
	return configIDFromElem(elem)
}

// ParseConfigIDList parses the body of a GetConfigIDs reply: a ConfigIdList
// element with zero or more ConfigId children.
func ParseConfigIDList(doc string) ([]*ConfigID, error) {
	var list configIDListElem
	if err := xml.Unmarshal([]byte(doc), &list); err != nil {
		return nil, &MalformedXMLError{Want: "ConfigIdList", Err: err}
	}
	configs := make([]*ConfigID, 0, len(list.Configs))
	for _, elem := range list.Configs {
		c, err := configIDFromElem(elem)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// DataLink names one sender/router pair for the DataLinkSet payload.
type DataLink struct {
	SenderID   string
	RouterName string
	RouterIP   string
	RouterPort int
	RouterType string
}

type dataSenderElem struct {
	XMLName xml.Name `xml:"DataSender"`
	ID      string   `xml:"id,attr"`
}

type dataRouterElem struct {
	XMLName   xml.Name `xml:"DataRouter"`
	Name      string   `xml:"name,attr"`
	IPAddress string   `xml:"ipAddress,attr"`
	Port      string   `xml:"port,attr"`
	Type      string   `xml:"type,attr"`
}

type dataLinkElem struct {
	XMLName xml.Name `xml:"DataLink"`
	Sender  dataSenderElem
	Router  dataRouterElem
}

type dataLinkSetElem struct {
	XMLName xml.Name       `xml:"DataLinkSet"`
	Links   []dataLinkElem `xml:"DataLink"`
}

// DataLinkSetXML serializes the links a server must establish, one DataLink
// element per data source the server drives:
//
//	<DataLinkSet>
//	  <DataLink>
//	    <DataSender id="SOURCE_NAME"></DataSender>
//	    <DataRouter name="NAME" ipAddress="IP" port="PORT" type="TYPE"></DataRouter>
//	  </DataLink>
//	</DataLinkSet>
func DataLinkSetXML(links []DataLink) (string, error) {
	set := dataLinkSetElem{Links: make([]dataLinkElem, 0, len(links))}
	for _, l := range links {
		if !ValidRouterType(l.RouterType) {
			return "", fmt.Errorf("invalid data router type %q for sender %q", l.RouterType, l.SenderID)
		}
		set.Links = append(set.Links, dataLinkElem{
			Sender: dataSenderElem{ID: l.SenderID},
			Router: dataRouterElem{
				Name:      l.RouterName,
				IPAddress: l.RouterIP,
				Port:      strconv.Itoa(l.RouterPort),
				Type:      l.RouterType,
			},
		})
	}
	out, err := xml.Marshal(set)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
