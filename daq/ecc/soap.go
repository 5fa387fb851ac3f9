// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ecc

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/hooklift/gowsdl/soap"
)

// eccNamespace is the target namespace of the getEccSoapServer WSDL.
const eccNamespace = "urn:ecc"

// soapCallTimeout bounds a single SOAP round trip. The task dispatcher
// applies its own deadlines on top; this only protects against a dead TCP
// peer when a client is used outside a task.
const soapCallTimeout = 30 * time.Second

type getStateRequest struct {
	XMLName xml.Name `xml:"urn:ecc GetState"`
}

type getConfigIDsRequest struct {
	XMLName xml.Name `xml:"urn:ecc GetConfigIDs"`
}

// transitionRequest covers the seven transition operations, which share one
// signature. The element name is set per call.
type transitionRequest struct {
	XMLName   xml.Name
	ConfigID  string `xml:"configID"`
	DataLinks string `xml:"datalinks"`
}

// eccResponse is the common reply shape. The response element name varies
// by operation, so XMLName is left dynamic.
type eccResponse struct {
	XMLName      xml.Name
	ErrorCode    int    `xml:"ErrorCode"`
	ErrorMessage string `xml:"ErrorMessage"`
	State        int    `xml:"State"`
	Transition   int    `xml:"Transition"`
	Text         string `xml:"Text"`
}

// soapClient is the production Client bound to one ECC endpoint.
type soapClient struct {
	url    string
	client *soap.Client
}

// NewSOAPClient returns a Client speaking SOAP to the given endpoint URL.
// It satisfies ClientFactory.
func NewSOAPClient(url string) Client {
	return &soapClient{
		url:    url,
		client: soap.NewClient(url, soap.WithTimeout(soapCallTimeout)),
	}
}

func (c *soapClient) call(ctx context.Context, action string, req interface{}) (*Reply, error) {
	resp := new(eccResponse)
	if err := c.client.CallContext(ctx, eccNamespace+"#"+action, req, resp); err != nil {
		return nil, fmt.Errorf("soap call %s to %s failed: %w", action, c.url, err)
	}
	return &Reply{
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
		State:        resp.State,
		Transition:   resp.Transition,
		Text:         resp.Text,
	}, nil
}

func (c *soapClient) GetState(ctx context.Context) (*Reply, error) {
	return c.call(ctx, "GetState", &getStateRequest{})
}

func (c *soapClient) GetConfigIDs(ctx context.Context) (*Reply, error) {
	return c.call(ctx, "GetConfigIDs", &getConfigIDsRequest{})
}

func (c *soapClient) Transition(ctx context.Context, op TransitionOp, configXML, dataLinkXML string) (*Reply, error) {
	req := &transitionRequest{
		XMLName:   xml.Name{Space: eccNamespace, Local: string(op)},
		ConfigID:  configXML,
		DataLinks: dataLinkXML,
	}
	return c.call(ctx, string(op), req)
}
