package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// definitionView mirrors the server's definition resource for display.
type definitionView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Digest      string `json:"digest"`
	SourceURL   string `json:"source_url,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

func newListCmd() *cobra.Command {
	var (
		typeFilter    string
		queryFilter   string
		enabledFilter string
		sortBy        string
		order         string
		limit         int
		offset        int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			if typeFilter != "" {
				params["type"] = typeFilter
			}
			if queryFilter != "" {
				params["query"] = queryFilter
			}
			if enabledFilter != "" {
				if _, err := strconv.ParseBool(enabledFilter); err != nil {
					return fmt.Errorf("--enabled must be true or false")
				}
				params["enabled"] = enabledFilter
			}
			if sortBy != "" {
				params["sort"] = sortBy
			}
			if order != "" {
				params["order"] = order
			}
			if limit > 0 {
				params["limit"] = strconv.Itoa(limit)
			}
			if offset > 0 {
				params["offset"] = strconv.Itoa(offset)
			}

			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method:      http.MethodGet,
				Path:        "/definitions",
				QueryParams: params,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printRawJSON(body)
			}
			var defs []definitionView
			if err := json.Unmarshal(body, &defs); err != nil {
				return fmt.Errorf("failed to parse response")
			}
			if len(defs) == 0 {
				cmd.Println("No definitions found.")
				return nil
			}
			w := newTabWriter(cmd)
			fmt.Fprintln(w, "ID\tTYPE\tENABLED\tNAME\tDIGEST")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", d.ID, d.Type, d.Enabled, d.Name, shortDigest(d.Digest))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Filter by definition type")
	cmd.Flags().StringVarP(&queryFilter, "query", "q", "", "Free-text filter on id, name, description")
	cmd.Flags().StringVar(&enabledFilter, "enabled", "", "Filter by enabled state (true|false)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort by id, name, or type")
	cmd.Flags().StringVar(&order, "order", "", "Sort order: asc or desc")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method: http.MethodGet,
				Path:   "/definitions/" + args[0],
			})
			if err != nil {
				return err
			}
			return printRawJSON(body)
		},
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <source>",
		Short: "Install a definition from a manifest source",
		Long: `Install a definition from a manifest source. The source may be an
http(s) URL, a file:// URL, or a filesystem path readable by the
server. The server fetches the manifest, downloads the payload, and
verifies it against the manifest digest before committing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqBody, err := json.Marshal(map[string]string{"source": args[0]})
			if err != nil {
				return err
			}
			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method: http.MethodPost,
				Path:   "/definitions/install",
				Body:   reqBody,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printRawJSON(body)
			}
			var def definitionView
			if err := json.Unmarshal(body, &def); err != nil {
				return fmt.Errorf("failed to parse response")
			}
			cmd.Printf("Installed %s (%s)\n", def.ID, shortDigest(def.Digest))
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <id>",
		Short: "Re-sync a definition from its source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method: http.MethodPost,
				Path:   "/definitions/" + args[0] + "/sync",
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printRawJSON(body)
			}
			var def definitionView
			if err := json.Unmarshal(body, &def); err != nil {
				return fmt.Errorf("failed to parse response")
			}
			cmd.Printf("Synced %s (%s)\n", def.ID, shortDigest(def.Digest))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewHTTPClient(serverURL)
			if _, err := client.DoRequest(RequestOptions{
				Method: http.MethodDelete,
				Path:   "/definitions/" + args[0],
			}); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func newEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, args[0], true)
		},
	}
	disable := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(cmd, args[0], false)
		},
	}
	rootCmd.AddCommand(disable)
	return cmd
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	reqBody, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	client := NewHTTPClient(serverURL)
	if _, err := client.DoRequest(RequestOptions{
		Method: http.MethodPut,
		Path:   "/definitions/" + id + "/enabled",
		Body:   reqBody,
	}); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	cmd.Printf("Definition %s %s\n", id, state)
	return nil
}

func newPayloadCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "payload <id>",
		Short: "Fetch a definition's payload bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method: http.MethodGet,
				Path:   "/definitions/" + args[0] + "/payload",
			})
			if err != nil {
				return err
			}
			if outFile != "" {
				return os.WriteFile(outFile, body, 0o644)
			}
			cmd.OutOrStdout().Write(body)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Write payload to file instead of stdout")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewHTTPClient(serverURL)
			body, err := client.DoRequest(RequestOptions{
				Method: http.MethodGet,
				Path:   "/version",
			})
			if err != nil {
				cmd.Println("mcictl v0.1.0 (server unreachable)")
				return nil
			}
			if jsonOutput {
				return printRawJSON(body)
			}
			var rsp struct {
				ServerVersion string `json:"serverVersion"`
				ApiVersion    string `json:"apiVersion"`
			}
			if err := json.Unmarshal(body, &rsp); err != nil {
				return fmt.Errorf("failed to parse response")
			}
			cmd.Println("mcictl v0.1.0")
			cmd.Printf("Server: %s (api %s)\n", rsp.ServerVersion, rsp.ApiVersion)
			return nil
		},
	}
}

func printRawJSON(body []byte) error {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("failed to parse response")
	}
	printJSON(data)
	return nil
}

func shortDigest(d string) string {
	if len(d) > 19 {
		return d[:19]
	}
	return d
}
