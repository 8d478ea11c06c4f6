/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package promptbuilder assembles model prompts from developer-authored
templates and encoded runtime data.

Templates are string literals containing {{name}} placeholders. Runtime values
can only reach a prompt through an encoder (JSON or YAML), so backlog
text or repository contents cannot smuggle new placeholders into the
instructions:

	var system = promptbuilder.MustNewPrompt(`Rules: {{policy}}`)

	p, err := system.BindJSON("policy", pol.Document())
	if err != nil {
		return err
	}
	text, err := p.Build()

Every Bind method returns a new Prompt, and Build fails while any placeholder
remains unbound. Substitution is single pass: a bound value that itself
contains "{{x}}" is emitted verbatim.
*/
package promptbuilder
