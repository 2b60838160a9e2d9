package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/phrazzld/tunesmith-api/internal/domain"
)

// ParseResult is the typed outcome of one provider poll.
type ParseResult struct {
	Status       domain.JobStatus
	ProgressInfo *string
	ErrorMessage *string
	// Choices is sorted by index and never longer than the requested count.
	// Choices carry no JobID; the persister fills it in.
	Choices []domain.Choice
}

// defaultFailureMessage is recorded when the provider fails a task without
// saying why.
const defaultFailureMessage = "provider reported failure"

var statusAliases = map[string]domain.JobStatus{
	"queued":    domain.JobStatusPending,
	"submitted": domain.JobStatusPending,
	"pending":   domain.JobStatusPending,
	"running":   domain.JobStatusProgress,
	"streaming": domain.JobStatusProgress,
	"progress":  domain.JobStatusProgress,
	"complete":  domain.JobStatusSuccess,
	"completed": domain.JobStatusSuccess,
	"success":   domain.JobStatusSuccess,
	"failed":    domain.JobStatusFailure,
	"error":     domain.JobStatusFailure,
	"failure":   domain.JobStatusFailure,
	"cancelled": domain.JobStatusCancelled,
	"canceled":  domain.JobStatusCancelled,
}

// MapStatus converts a provider status string to a job status, ignoring case
// and surrounding whitespace.
func MapStatus(raw string) (domain.JobStatus, error) {
	status, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedStatus, raw)
	}
	return status, nil
}

// Parse interprets a provider payload for a job that requested the given
// number of choices. Malformed clips are skipped and logged rather than
// failing the whole payload. A missing result is "no progress yet". The only
// errors are ErrUnrecognizedStatus and, for a SUCCESS without a single usable
// clip, ErrNoUsableChoices.
func Parse(payload *TaskStatusPayload, requested int, log *slog.Logger) (*ParseResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if payload == nil {
		return &ParseResult{Status: domain.JobStatusPending}, nil
	}

	status, err := MapStatus(payload.Status)
	if err != nil {
		return nil, err
	}

	res := &ParseResult{
		Status:       status,
		ProgressInfo: nonEmpty(payload.Progress),
	}

	if status == domain.JobStatusFailure {
		msg := defaultFailureMessage
		if e := nonEmpty(payload.Error); e != nil {
			msg = *e
		}
		res.ErrorMessage = &msg
		return res, nil
	}

	if payload.Result != nil && len(payload.Result.Clips) > 0 {
		res.Choices = parseClips(payload.Result.Clips, requested, log)
	}

	if status == domain.JobStatusSuccess && len(res.Choices) == 0 {
		return nil, ErrNoUsableChoices
	}

	return res, nil
}

func parseClips(raw []json.RawMessage, requested int, log *slog.Logger) []domain.Choice {
	choices := make([]domain.Choice, 0, len(raw))
	seen := make(map[int]struct{}, len(raw))

	for pos, msg := range raw {
		var clip Clip
		if err := json.Unmarshal(msg, &clip); err != nil {
			log.Warn("skipping undecodable clip", "position", pos, "error", err)
			continue
		}

		index := pos
		if clip.Index != nil {
			index = *clip.Index
		}
		if index < 0 {
			log.Warn("skipping clip with negative index", "position", pos, "index", index)
			continue
		}
		if _, dup := seen[index]; dup {
			log.Warn("skipping clip with duplicate index", "position", pos, "index", index)
			continue
		}

		audioURL := strings.TrimSpace(clip.AudioURL)
		if audioURL == "" {
			log.Warn("skipping clip without audio url", "position", pos, "index", index)
			continue
		}
		seen[index] = struct{}{}

		choices = append(choices, domain.Choice{
			Index:          index,
			AudioURL:       audioURL,
			StreamAudioURL: domain.StringPtr(strings.TrimSpace(clip.StreamAudioURL)),
			VideoURL:       domain.StringPtr(strings.TrimSpace(clip.VideoURL)),
			ImageURL:       domain.StringPtr(strings.TrimSpace(clip.ImageURL)),
			Duration:       parseDuration(clip.Duration, index, log),
			Title:          strings.TrimSpace(clip.Title),
			Tags:           parseTags(clip.Tags, index, log),
		})
	}

	sort.Slice(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })

	if requested > 0 && len(choices) > requested {
		log.Warn("provider returned more clips than requested, truncating",
			"requested", requested,
			"usable", len(choices))
		choices = choices[:requested]
	}
	return choices
}

// parseDuration accepts a JSON number or a numeric string. Anything else,
// including negative values, yields nil.
func parseDuration(raw json.RawMessage, index int, log *slog.Logger) *float64 {
	if isAbsent(raw) {
		return nil
	}

	var d float64
	if err := json.Unmarshal(raw, &d); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Warn("ignoring non-numeric clip duration", "index", index, "duration", string(raw))
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			log.Warn("ignoring non-numeric clip duration", "index", index, "duration", s)
			return nil
		}
		d = parsed
	}

	if math.IsNaN(d) || math.IsInf(d, 0) {
		log.Warn("ignoring non-finite clip duration", "index", index, "duration", string(raw))
		return nil
	}
	if d < 0 {
		log.Warn("ignoring negative clip duration", "index", index, "duration", d)
		return nil
	}
	return &d
}

// parseTags flattens a list of tags or a comma-delimited string into a single
// ", " joined string.
func parseTags(raw json.RawMessage, index int, log *slog.Logger) *string {
	if isAbsent(raw) {
		return nil
	}

	var parts []string
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		parts = list
	} else {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Warn("ignoring unreadable clip tags", "index", index, "tags", string(raw))
			return nil
		}
		parts = strings.Split(s, ",")
	}

	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	joined := strings.Join(cleaned, ", ")
	return &joined
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nonEmpty(p *string) *string {
	if p == nil {
		return nil
	}
	return domain.StringPtr(strings.TrimSpace(*p))
}
