/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Name identifies a tool.
type Name string

// The tool set offered to the model.
const (
	ReadRepo  Name = "read_repo"
	WriteFile Name = "write_file"
	RunChecks Name = "run_checks"
	OpenPR    Name = "open_pr"
)

// Call is a decoded tool invocation. The concrete type is one of
// ReadRepoArgs, WriteFileArgs, RunChecksArgs or OpenPRArgs.
type Call interface {
	Tool() Name
	isCall()
}

// ReadRepoArgs lists and reads files.
type ReadRepoArgs struct {
	Glob string `json:"glob,omitempty" jsonschema_description:"Glob relative to the repository root. Defaults to **/*.{ts,tsx,md}"`
}

// WriteFileArgs replaces a file's content.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"Repository-relative path of the file to create or overwrite"`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"The complete new content of the file"`
}

// RunChecksArgs takes no arguments.
type RunChecksArgs struct{}

// OpenPRArgs publishes the current changes.
type OpenPRArgs struct {
	Title  string `json:"title" jsonschema:"required" jsonschema_description:"Pull request title, also used as the commit message"`
	Body   string `json:"body,omitempty" jsonschema_description:"Pull request description in Markdown"`
	Branch string `json:"branch" jsonschema:"required" jsonschema_description:"Name of the new branch to push, for example bot/fix-readme-typo"`
}

func (ReadRepoArgs) Tool() Name  { return ReadRepo }
func (WriteFileArgs) Tool() Name { return WriteFile }
func (RunChecksArgs) Tool() Name { return RunChecks }
func (OpenPRArgs) Tool() Name    { return OpenPR }

func (ReadRepoArgs) isCall()  {}
func (WriteFileArgs) isCall() {}
func (RunChecksArgs) isCall() {}
func (OpenPRArgs) isCall()    {}

// UnknownToolError is returned by Decode for names outside the tool set.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}

// Decode validates raw tool input against the named tool's schema and
// returns the typed call.
func Decode(name string, input json.RawMessage) (Call, error) {
	t, ok := lookup(Name(name))
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	input = bytes.TrimSpace(input)
	if len(input) == 0 || bytes.Equal(input, []byte("null")) {
		input = []byte("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, fmt.Errorf("%s arguments must be a JSON object: %w", name, err)
	}
	for _, req := range t.input.Required {
		v, ok := fields[req]
		if !ok || bytes.Equal(v, []byte("null")) {
			return nil, fmt.Errorf("%s parameter is required", req)
		}
	}

	call, err := t.decode(input)
	if err != nil {
		return nil, fmt.Errorf("decoding %s arguments: %w", name, err)
	}
	return call, nil
}

func decodeAs[T Call](input json.RawMessage) (Call, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return nil, err
	}
	return v, nil
}
