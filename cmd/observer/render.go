package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/ahrav/sonolive/internal/client/mirror"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

const clearScreen = "\033[H\033[2J"

type output struct {
	w        io.Writer
	json     bool
	colorize bool
}

func newOutput(w io.Writer, asJSON bool) output {
	return output{w: w, json: asJSON, colorize: !asJSON && isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (o output) writeJSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type sessionJSON struct {
	Seq        uint64                    `json:"seq"`
	State      discovery.SessionState    `json:"state"`
	Origin     discovery.SeedOrigin      `json:"origin"`
	Seeds      []string                  `json:"seeds"`
	Candidates []discovery.Candidate     `json:"candidates"`
	Pagination discovery.Pagination      `json:"pagination"`
	Sources    discovery.PersonalSources `json:"personalSources"`
	Notices    []mirror.Notice           `json:"notices,omitempty"`
}

func toSessionJSON(v mirror.View) sessionJSON {
	return sessionJSON{
		Seq:        v.Seq,
		State:      v.State,
		Origin:     v.Origin,
		Seeds:      v.Seeds,
		Candidates: v.Candidates,
		Pagination: v.Pagination,
		Sources:    v.Sources,
		Notices:    v.Notices,
	}
}

func (o output) session(v mirror.View) error {
	if o.json {
		return o.writeJSON(toSessionJSON(v))
	}
	_, err := io.WriteString(o.w, o.renderSession(v))
	return err
}

func (o output) renderSession(v mirror.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s", o.stateLabel(v.State))
	if v.Origin.Kind != "" {
		fmt.Fprintf(&b, "  Origin: %s", v.Origin)
	}
	if len(v.Seeds) > 0 {
		fmt.Fprintf(&b, "  Seeds: %s", strings.Join(v.Seeds, ", "))
	}
	b.WriteString("\n")

	if len(v.Candidates) == 0 {
		b.WriteString("No candidates yet\n")
	} else {
		b.WriteString(o.renderCandidates(v.Candidates))
		b.WriteString("\n")
	}

	switch {
	case v.Pagination.LoadMorePending:
		b.WriteString("Loading more...\n")
	case v.Pagination.HasMore:
		b.WriteString("More results available (load-more)\n")
	case v.State == discovery.StateRunning && !v.Pagination.InitialLoadComplete:
		b.WriteString("Initial load in progress...\n")
	}
	return b.String()
}

func (o output) renderCandidates(candidates []discovery.Candidate) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Artist", "Genre", "Similarity", "Listeners", "Status"})
	for i, c := range candidates {
		similarity := ""
		if s := c.Attributes.SimilarityScore; s != nil {
			similarity = strconv.FormatFloat(*s*100, 'f', 1, 64) + "%"
		}
		tw.AppendRow(table.Row{
			i + 1,
			c.Name,
			c.Attributes.Genre,
			similarity,
			strings.TrimPrefix(c.Attributes.Followers, "Listeners: "),
			o.statusLabel(c.Status),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}

func (o output) stateLabel(s discovery.SessionState) string {
	if !o.colorize {
		return string(s)
	}
	switch s {
	case discovery.StateRunning:
		return text.Colors{text.FgGreen}.Sprint(s)
	case discovery.StateStopping:
		return text.Colors{text.FgYellow}.Sprint(s)
	default:
		return string(s)
	}
}

func (o output) statusLabel(s discovery.CandidateStatus) string {
	label := s.Label()
	if !o.colorize || label == "" {
		return label
	}
	switch s {
	case discovery.StatusAdded, discovery.StatusAlreadyPresent:
		return text.Colors{text.FgGreen}.Sprint(label)
	case discovery.StatusRequested:
		return text.Colors{text.FgBlue}.Sprint(label)
	case discovery.StatusFailed, discovery.StatusRejected, discovery.StatusInvalidTarget:
		return text.Colors{text.FgRed}.Sprint(label)
	default:
		return label
	}
}

func (o output) sources(sources discovery.PersonalSources) error {
	if o.json {
		return o.writeJSON(sources)
	}
	_, err := io.WriteString(o.w, renderSources(sources)+"\n")
	return err
}

func renderSources(sources discovery.PersonalSources) string {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Source", "Enabled", "Configured", "Username", "Reason"})
	for _, id := range ids {
		s := sources[id]
		tw.AppendRow(table.Row{id, yesNo(s.Enabled), yesNo(s.Configured), deref(s.Username), deref(s.Reason)})
	}
	return tw.Render()
}

func (o output) library(artists []string) error {
	if o.json {
		if artists == nil {
			artists = []string{}
		}
		return o.writeJSON(artists)
	}
	if len(artists) == 0 {
		_, err := fmt.Fprintln(o.w, "Library is empty")
		return err
	}
	for _, a := range artists {
		if _, err := fmt.Fprintln(o.w, a); err != nil {
			return err
		}
	}
	return nil
}

func (o output) candidateStatus(m *mirror.Mirror, identity string) error {
	v := m.View()
	idx := slices.IndexFunc(v.Candidates, func(c discovery.Candidate) bool { return c.Identity == identity })
	if idx < 0 {
		return fmt.Errorf("%s is not a candidate in this session", identity)
	}
	c := v.Candidates[idx]
	if o.json {
		return o.writeJSON(c)
	}
	_, err := fmt.Fprintf(o.w, "%s: %s\n", c.Name, o.statusLabel(c.Status))
	return err
}

func (o output) preview(m *mirror.Mirror, identity string) error {
	p, ok := m.Preview(identity)
	if !ok {
		return fmt.Errorf("no preview received for %s", identity)
	}
	if o.json {
		return o.writeJSON(p)
	}
	_, err := fmt.Fprintf(o.w, "%s\n\n%s\n", p.ArtistName, strings.TrimSpace(p.Biography))
	return err
}

func (o output) sample(m *mirror.Mirror, identity string) error {
	s, ok := m.Sample(identity)
	if !ok {
		return fmt.Errorf("no sample received for %s", identity)
	}
	if o.json {
		return o.writeJSON(s)
	}
	link := s.PreviewURL
	if s.VideoID != "" {
		link = "https://www.youtube.com/watch?v=" + s.VideoID
	}
	_, err := fmt.Fprintf(o.w, "%s - %s (%s)\n%s\n", s.Artist, s.Track, s.Source, link)
	return err
}

// watchMark identifies a rendered frame so unchanged views are not redrawn.
type watchMark struct {
	seq        uint64
	synced     bool
	connected  bool
	notices    int
	lastNotice mirror.Notice
}

func markOf(v mirror.View, connected bool) watchMark {
	m := watchMark{seq: v.Seq, synced: v.Synced, connected: connected, notices: len(v.Notices)}
	if n := len(v.Notices); n > 0 {
		m.lastNotice = v.Notices[n-1]
	}
	return m
}

func (o output) watchFrame(v mirror.View, connected bool) error {
	if o.json {
		enc := json.NewEncoder(o.w)
		return enc.Encode(toSessionJSON(v))
	}

	var b strings.Builder
	if o.colorize {
		b.WriteString(clearScreen)
	}
	if !connected {
		b.WriteString("Disconnected, reconnecting...\n")
	}
	b.WriteString(o.renderSession(v))
	if n := len(v.Notices); n > 0 {
		last := v.Notices[n-1]
		line := fmt.Sprintf("%s: %s", last.Title, last.Message)
		if last.IsError && o.colorize {
			line = text.Colors{text.FgRed}.Sprint(line)
		}
		b.WriteString(line + "\n")
	}
	if !o.colorize {
		b.WriteString("\n")
	}
	_, err := io.WriteString(o.w, b.String())
	return err
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
