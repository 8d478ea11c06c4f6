/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"encoding/json"

	"chainguard.dev/safeops/agents/schema"
	"github.com/anthropics/anthropic-sdk-go"
)

type tool struct {
	name        Name
	description string
	input       schema.Input
	decode      func(json.RawMessage) (Call, error)
}

func newTool[T Call](name Name, description string) tool {
	in, err := schema.InputOf[T]()
	if err != nil {
		panic(err)
	}
	return tool{name: name, description: description, input: in, decode: decodeAs[T]}
}

// tools is ordered as presented to the model.
var tools = []tool{
	newTool[ReadRepoArgs](ReadRepo,
		"List and read repository files matching a glob. Forbidden, oversized and .git files are omitted and at most 200 files are returned."),
	newTool[WriteFileArgs](WriteFile,
		"Create or overwrite a file with the given content. Paths forbidden by the repository policy are rejected."),
	newTool[RunChecksArgs](RunChecks,
		"Run the project's install, lint and build steps and report their exit codes and output tails."),
	newTool[OpenPRArgs](OpenPR,
		"Commit all changes to a new branch and open a draft pull request. Fails if nothing changed since the last commit."),
}

func lookup(name Name) (tool, bool) {
	for _, t := range tools {
		if t.name == name {
			return t, true
		}
	}
	return tool{}, false
}

// Names returns the tool names in presentation order.
func Names() []Name {
	names := make([]Name, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.name)
	}
	return names
}

// Definitions returns the tool declarations sent with every model request.
func Definitions() []anthropic.ToolUnionParam {
	defs := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        string(t.name),
				Description: anthropic.String(t.description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: t.input.Properties,
					Required:   t.input.Required,
				},
			},
		})
	}
	return defs
}
