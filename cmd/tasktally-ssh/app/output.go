package app

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/tasktally/tasktally-ssh/internal/credentials"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeValue encodes v to w as JSON or YAML.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// writeCredentials renders creds as a table, JSON or YAML.
func writeCredentials(w io.Writer, format string, creds []credentials.CredentialRef) error {
	if format != formatTable && format != "" {
		if creds == nil {
			creds = []credentials.CredentialRef{}
		}
		return writeValue(w, format, creds)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Provider", "Scope", "Known hosts", "Passphrase", "Created")
	for _, c := range creds {
		row := []string{
			c.Name,
			c.Provider,
			c.Scope,
			yesNo(c.KnownHostsRef != ""),
			yesNo(c.PassphraseRef != ""),
			c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render credential %s: %w", c.Name, err)
		}
	}
	return table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
