/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// backlog is the task list shown to the model. YAML documents keep their
// comments and key order; anything else is passed through as text.
type backlog struct {
	doc  *yaml.Node
	text string
}

func loadBacklog(file string) (*backlog, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading backlog: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("backlog is empty")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return &backlog{text: string(data)}, nil
	}
	// A bare scalar is just text.
	if root := doc.Content[0]; root.Kind == yaml.ScalarNode {
		return &backlog{text: string(data)}, nil
	}
	return &backlog{doc: &doc}, nil
}

func (b *backlog) value() any {
	if b.doc != nil {
		return b.doc
	}
	return b.text
}
