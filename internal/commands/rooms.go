package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"liveclass/internal/api"
	"liveclass/pkg/types"
)

type roomsOptions struct {
	server  string
	asJSON  bool
	timeout time.Duration
}

func newRoomsCommand() *cobra.Command {
	opts := &roomsOptions{}
	cmd := &cobra.Command{
		Use:   "rooms [name]",
		Short: "List the rooms of a running relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := opts.fetch(args)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rooms)
			}
			renderRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "http://localhost:8080", "relay base URL")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print raw JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func (o *roomsOptions) fetch(args []string) ([]types.RoomInfo, error) {
	base := strings.TrimRight(o.server, "/")
	client := &http.Client{Timeout: o.timeout}

	if len(args) == 1 {
		var info types.RoomInfo
		if err := getJSON(client, base+"/api/rooms/"+args[0], &info); err != nil {
			return nil, err
		}
		return []types.RoomInfo{info}, nil
	}

	var resp api.ListRoomsResponse
	if err := getJSON(client, base+"/api/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func getJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("%s from %s", resp.Status, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func renderRooms(w io.Writer, rooms []types.RoomInfo) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Room", "State", "Topic", "Viewers", "Connections", "Chat", "Age"})

	var viewers, members int
	for _, r := range rooms {
		t.AppendRow(table.Row{
			r.Name,
			r.State,
			r.Topic,
			r.ViewerCount,
			r.Members,
			r.ChatLength,
			time.Since(r.CreatedAt).Round(time.Second),
		})
		viewers += r.ViewerCount
		members += r.Members
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rooms)), "", "", viewers, members, "", ""})
	t.Render()
}
