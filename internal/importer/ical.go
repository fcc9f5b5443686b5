package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
)

// iCalendar property names.
const (
	PropDTStart     = "DTSTART"
	PropDTEnd       = "DTEND"
	PropLocation    = "LOCATION"
	PropSummary     = "SUMMARY"
	PropDescription = "DESCRIPTION"
	PropUID         = "UID"
)

const (
	beginEvent = "BEGIN:VEVENT"
	endEvent   = "END:VEVENT"
)

var calendarPattern = regexp.MustCompile(`(?ms)\A\s*BEGIN:VCALENDAR$.*^VERSION:(1\.0|2\.0)$.*^END:VCALENDAR\s*\z`)

// VEvent is one BEGIN:VEVENT ... END:VEVENT slice of a feed.
type VEvent struct {
	Line  int               // 1-based line of BEGIN:VEVENT
	Props map[string]string // Unfolded, unescaped property values by key
	Lines map[string]int    // 1-based line of each property
}

// Get returns a property value.
func (v *VEvent) Get(key string) string {
	return v.Props[key]
}

// ICalParser imports events from an iCalendar feed. The feed is fetched
// once, when the parser is created.
type ICalParser struct {
	url        string
	ic         core.ImportContext
	adapter    *entity.Adapter
	validator  core.AddressValidator
	opts       options
	document   string
	events     []*VEvent
	unclosed   int // Line of a BEGIN:VEVENT without END:VEVENT, or zero
	fetchError error
	validation
}

// NewICalParser fetches the feed at url and slices it into events. A fetch
// failure is reported by Validate as INVALID_PATH.
func NewICalParser(ctx context.Context, url string, ic core.ImportContext, adapter *entity.Adapter, validator core.AddressValidator, opts ...Option) *ICalParser {
	p := &ICalParser{
		url:       FeedURL(url),
		ic:        ic,
		adapter:   adapter,
		validator: validator,
		opts:      buildOptions(opts),
	}

	body, err := fetch(ctx, p.opts.client, p.url)
	if err != nil {
		pe := core.NewParserError(core.InvalidPath, 0, 0, p.url)
		pe.Err = err
		p.fetchError = pe
		return p
	}
	p.load(body)
	return p
}

// NewICalParserFromBytes parses an already retrieved feed.
func NewICalParserFromBytes(body []byte, ic core.ImportContext, adapter *entity.Adapter, validator core.AddressValidator, opts ...Option) *ICalParser {
	p := &ICalParser{
		ic:        ic,
		adapter:   adapter,
		validator: validator,
		opts:      buildOptions(opts),
	}
	p.load(body)
	return p
}

func (p *ICalParser) load(body []byte) {
	lines := splitLines(body)
	p.document = strings.Join(lines, "\n")
	p.events, p.unclosed = sliceEvents(lines)
}

func splitLines(body []byte) []string {
	var lines []string
	sc := bufio.NewScanner(decode(bytes.NewReader(body)))
	sc.Buffer(make([]byte, 0, 64*1024), MaxFeedSize)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines
}

// sliceEvents finds every BEGIN:VEVENT ... END:VEVENT slice. A slice without
// END:VEVENT stops the scan; its line is returned.
func sliceEvents(lines []string) ([]*VEvent, int) {
	var events []*VEvent
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != beginEvent {
			continue
		}
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == endEvent {
				end = j
				break
			}
		}
		if end < 0 {
			return events, i + 1
		}
		ev := parseEvent(lines[i+1:end], i+2)
		ev.Line = i + 1
		events = append(events, ev)
		i = end
	}
	return events, 0
}

// parseEvent reads the key/value lines of a slice. firstLine is the 1-based
// line number of lines[0]. Nested components such as VALARM are skipped.
func parseEvent(lines []string, firstLine int) *VEvent {
	ev := &VEvent{Props: make(map[string]string), Lines: make(map[string]int)}
	key := ""
	nested := 0
	for i, line := range lines {
		switch trimmed := strings.TrimSpace(line); {
		case strings.HasPrefix(trimmed, "BEGIN:"):
			nested++
			key = ""
			continue
		case strings.HasPrefix(trimmed, "END:") && nested > 0:
			nested--
			continue
		}
		if nested > 0 {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if key != "" {
				ev.Props[key] += unescape(line[1:])
			}
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		key = line[:colon]
		if semi := strings.Index(key, ";"); semi >= 0 {
			key = key[:semi]
		}
		ev.Props[key] = unescape(line[colon+1:])
		ev.Lines[key] = firstLine + i
	}
	return ev
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\,`, ",")
}

// ItemCount returns the number of event slices.
func (p *ICalParser) ItemCount() int { return len(p.events) }

// BatchSize returns the number of events per batch.
func (p *ICalParser) BatchSize() int { return p.opts.batchSize }

// Events returns the parsed event slices.
func (p *ICalParser) Events() []*VEvent { return p.events }

// Document returns the feed with line endings normalised to "\n". It can be
// stored and parsed again with NewICalParserFromBytes.
func (p *ICalParser) Document() string { return p.document }

// URL returns the fetched feed URL.
func (p *ICalParser) URL() string { return p.url }

// State returns the validation state.
func (p *ICalParser) State() State { return p.state }

// Err returns the validation failure, if any.
func (p *ICalParser) Err() error { return p.err }

// ErrorMessage returns the translated validation failure.
func (p *ICalParser) ErrorMessage() string { return p.message }

// Validate checks the fetch outcome, permission, the calendar envelope and
// every event, stopping at the first failure.
func (p *ICalParser) Validate(ctx context.Context) bool {
	p.state = StateValidating
	err := p.validate(ctx)
	if err != nil {
		p.opts.logger.Info("ical import rejected", "group_id", p.ic.GroupID, "url", p.url, "error", err)
	}
	return p.finish(err, p.opts.translator)
}

func (p *ICalParser) validate(ctx context.Context) error {
	if p.fetchError != nil {
		return p.fetchError
	}
	if err := checkPermission(ctx, p.opts.auth, p.ic.GroupID); err != nil {
		return err
	}
	if !calendarPattern.MatchString(p.document) {
		return core.NewParserError(core.InvalidHeaders, 1, 0, "")
	}
	if p.unclosed > 0 {
		return core.NewParserError(core.InvalidEvent, p.unclosed, 0, beginEvent).WithExtra("missing " + endEvent)
	}

	for _, ev := range p.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, key := range []string{PropDTStart, PropDTEnd} {
			if _, ok := core.ParseICalDate(ev.Get(key)); !ok {
				return core.NewParserError(core.InvalidDate, lineOf(ev, key), 0, ev.Get(key))
			}
		}
		values := p.eventValues(ctx, ev)
		if v := p.adapter.ValidateEvent(values, core.EventResults, core.EventParent, core.EventImport); len(v) > 0 {
			return core.NewParserError(core.InvalidEvent, ev.Line, 0, ev.Get(PropUID)).WithExtra(v[0].Error())
		}
	}
	return nil
}

func lineOf(ev *VEvent, key string) int {
	if n, ok := ev.Lines[key]; ok {
		return n
	}
	return ev.Line
}

// NextBatch returns up to BatchSize events starting at position.
func (p *ICalParser) NextBatch(_ context.Context, position int) ([]*VEvent, error) {
	if position >= len(p.events) {
		return nil, nil
	}
	end := position + p.opts.batchSize
	if end > len(p.events) {
		end = len(p.events)
	}
	return p.events[position:end], nil
}

// ProcessItem imports one event. Events whose UID was already imported into
// the group are skipped and yield an empty id.
func (p *ICalParser) ProcessItem(ctx context.Context, ev *VEvent, _ map[string]string) (string, error) {
	values, skip, err := p.extractEvent(ctx, ev)
	if err != nil {
		return "", err
	}
	if skip {
		return "", nil
	}
	e, err := p.adapter.ImportEvent(ctx, p.ic, values)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// extractEvent converts a slice to event values, reporting skip when the
// group already holds an event with the same UID.
func (p *ICalParser) extractEvent(ctx context.Context, ev *VEvent) (entity.Values, bool, error) {
	if uid := ev.Get(PropUID); uid != "" {
		exists, err := p.imported(ctx, uid)
		if err != nil {
			return nil, false, err
		}
		if exists {
			return nil, true, nil
		}
	}
	return p.eventValues(ctx, ev), false, nil
}

func (p *ICalParser) imported(ctx context.Context, uid string) (bool, error) {
	found, err := p.adapter.Store().Query(ctx, core.Query{
		Type: core.TypeEvent,
		Conditions: []core.Condition{
			{Field: core.EventParent, Value: p.ic.GroupID},
			{Field: core.EventExternalUID, Value: uid},
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("look up uid %q: %w", uid, err)
	}
	return len(found) > 0, nil
}

// eventValues maps a slice to the event field list.
func (p *ICalParser) eventValues(ctx context.Context, ev *VEvent) entity.Values {
	return entity.Values{
		icalDate(ev.Get(PropDTStart)),
		icalDate(ev.Get(PropDTEnd)),
		p.location(ctx, ev.Get(PropLocation)),
		core.Scalar(ev.Get(PropSummary)),
		core.Scalar(strings.ReplaceAll(ev.Get(PropDescription), `\n`, "\n")),
		nil, // results
		nil, // parent
		nil, // import
		core.Scalar(ev.Get(PropUID)),
	}
}

// location classifies LOCATION as an address when it validates, otherwise
// as extra information.
func (p *ICalParser) location(ctx context.Context, value string) core.FieldValue {
	if value == "" {
		return nil
	}
	ok, err := p.validator.ValidateAddress(ctx, value)
	if err != nil {
		p.opts.logger.Warn("address validation failed", "address", value, "error", err)
	}
	if ok {
		return core.AddressValue(value, "")
	}
	return core.AddressValue("", value)
}

func icalDate(s string) core.FieldValue {
	t, ok := core.ParseICalDate(s)
	if !ok {
		return core.Scalar(s)
	}
	return core.Scalar(core.StorageDate(t))
}
