package main

import (
	"encoding/json"
	"fmt"
	"io"

	"dupi-go/internal/dupi"

	"github.com/spf13/cobra"
)

// outputFormat reads --format, rejecting anything but text and json.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "", "text":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", &dupi.ConfigError{Field: "format", Reason: fmt.Sprintf("unknown format %q (want text or json)", format)}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type failureJSON struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type scanJSON struct {
	Run           int64         `json:"run"`
	Root          string        `json:"root"`
	Generation    int64         `json:"generation"`
	Status        string        `json:"status"`
	FilesIndexed  int64         `json:"files_indexed"`
	FilesHashed   int64         `json:"files_hashed"`
	BytesHashed   int64         `json:"bytes_hashed"`
	MarkedMissing int64         `json:"marked_missing"`
	Failures      []failureJSON `json:"failures"`
}

func newScanJSON(r *dupi.ScanReport) scanJSON {
	out := scanJSON{
		Run:           r.RunID,
		Root:          r.Root,
		Generation:    r.Generation,
		Status:        string(r.Status),
		FilesIndexed:  r.FilesIndexed,
		FilesHashed:   r.FilesHashed,
		BytesHashed:   r.BytesHashed,
		MarkedMissing: r.MarkedMissing,
		Failures:      []failureJSON{},
	}
	for _, f := range r.SoftFailures {
		out.Failures = append(out.Failures, failureJSON{Path: f.Path, Kind: string(f.Kind), Reason: f.Reason})
	}
	return out
}

type groupJSON struct {
	Hash        string   `json:"hash"`
	Size        int64    `json:"size"`
	Reclaimable int64    `json:"reclaimable"`
	Keep        string   `json:"keep,omitempty"`
	Files       []string `json:"files"`
}

type dupesJSON struct {
	Policy      string      `json:"policy"`
	Reclaimable int64       `json:"reclaimable"`
	Groups      []groupJSON `json:"groups"`
}

func newDupesJSON(groups []*dupi.DuplicateGroup, policy dupi.SelectionPolicy) dupesJSON {
	out := dupesJSON{Policy: policy.Name(), Groups: []groupJSON{}}
	for _, g := range groups {
		gj := groupJSON{
			Hash:        g.StrongHash,
			Size:        g.Size,
			Reclaimable: g.Reclaimable(),
			Files:       make([]string, 0, len(g.Members)),
		}
		if g.Canonical != nil {
			gj.Keep = g.Canonical.Path
		}
		for _, m := range g.Members {
			gj.Files = append(gj.Files, m.Path)
		}
		out.Reclaimable += gj.Reclaimable
		out.Groups = append(out.Groups, gj)
	}
	return out
}

type actionJSON struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Target string `json:"target,omitempty"`
	Size   int64  `json:"size"`
}

type planGroupJSON struct {
	Hash    string       `json:"hash"`
	Keep    string       `json:"keep"`
	Actions []actionJSON `json:"actions"`
}

type planJSON struct {
	Reclaimable int64           `json:"reclaimable"`
	Groups      []planGroupJSON `json:"groups"`
}

func newPlanJSON(p *dupi.Plan) planJSON {
	out := planJSON{Reclaimable: p.ReclaimableBytes, Groups: []planGroupJSON{}}
	for _, pg := range p.Groups {
		gj := planGroupJSON{Hash: pg.Group.StrongHash, Keep: pg.Canonical.Path, Actions: []actionJSON{}}
		for _, a := range pg.Actions {
			gj.Actions = append(gj.Actions, actionJSON{Action: string(a.Kind), Path: a.Path, Target: a.Target, Size: a.Size})
		}
		out.Groups = append(out.Groups, gj)
	}
	return out
}
