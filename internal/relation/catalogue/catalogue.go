// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package catalogue publishes the charm's entry in the COS catalogue.
package catalogue

import (
	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
)

// EndpointName is the charm endpoint related to the catalogue.
const EndpointName = "catalogue"

// Item is an entry shown in the catalogue.
type Item struct {
	Name        string
	Icon        string
	URL         string
	Description string
}

// Consumer sends the charm's item to related catalogues.
type Consumer struct {
	endpoint relation.Endpoint
	item     Item
}

// NewConsumer returns a Consumer advertising item.
func NewConsumer(backend relation.Backend, item Item) *Consumer {
	return &Consumer{
		endpoint: relation.NewEndpoint(backend, EndpointName),
		item:     item,
	}
}

// UpdateItem replaces the advertised item and publishes it.
func (c *Consumer) UpdateItem(item Item) error {
	c.item = item
	return errors.Trace(c.Publish())
}

// Publish writes the item to every catalogue relation. Non-leaders skip.
func (c *Consumer) Publish() error {
	_, err := c.endpoint.SetAppData(map[string]string{
		"name":        c.item.Name,
		"icon":        c.item.Icon,
		"url":         c.item.URL,
		"description": c.item.Description,
	})
	return errors.Trace(err)
}
