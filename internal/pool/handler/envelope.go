package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/tsaxking/uuid-microservice/internal/pool/models"
)

var (
	// ErrMalformedEnvelope means the message is not a request envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrInvalidRequest means the envelope is well formed but its data fails validation.
	ErrInvalidRequest = errors.New("invalid reserve request")
	// ErrUnsupportedChannel means responseChannel cannot be published to as a
	// plain channel name. It also matches ErrMalformedEnvelope.
	ErrUnsupportedChannel = fmt.Errorf("%w: unsupported response channel", ErrMalformedEnvelope)
)

// dateLayouts are the ISO-8601 forms accepted for the envelope date, tried in
// order. Forms without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// wireEnvelope uses pointers so absent fields can be told apart from zero values.
type wireEnvelope struct {
	Data            json.RawMessage `json:"data"`
	RequestID       *string         `json:"requestId"`
	ResponseChannel *string         `json:"responseChannel"`
	Date            *string         `json:"date"`
	ID              json.RawMessage `json:"id"`
}

type wireReserveData struct {
	Count json.RawMessage `json:"count"`
}

// Request is a parsed and validated reserve request.
type Request struct {
	Envelope models.RequestEnvelope
	SentAt   time.Time
	Count    int
}

// ParseRequest decodes payload into a Request. It returns an error wrapping
// ErrMalformedEnvelope when the envelope shape is wrong and ErrInvalidRequest
// when data does not satisfy the count rule.
func ParseRequest(payload []byte) (Request, error) {
	env, sentAt, err := parseEnvelope(payload)
	if err != nil {
		return Request{}, err
	}
	count, err := parseReserveData(env.Data)
	if err != nil {
		return Request{}, err
	}
	return Request{Envelope: env, SentAt: sentAt, Count: count}, nil
}

func parseEnvelope(payload []byte) (models.RequestEnvelope, time.Time, error) {
	var w wireEnvelope
	if err := json.Unmarshal(payload, &w); err != nil {
		return models.RequestEnvelope{}, time.Time{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var missing []string
	if isAbsent(w.Data) {
		missing = append(missing, "data")
	}
	if w.RequestID == nil || govalidator.IsNull(*w.RequestID) {
		missing = append(missing, "requestId")
	}
	if w.ResponseChannel == nil || govalidator.IsNull(*w.ResponseChannel) {
		missing = append(missing, "responseChannel")
	}
	if w.Date == nil {
		missing = append(missing, "date")
	}
	if isAbsent(w.ID) {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		return models.RequestEnvelope{}, time.Time{},
			fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, strings.Join(missing, ", "))
	}

	if !govalidator.IsPrintableASCII(*w.ResponseChannel) || strings.ContainsAny(*w.ResponseChannel, " *?[]") {
		return models.RequestEnvelope{}, time.Time{},
			fmt.Errorf("%w: %q is not a plain channel name", ErrUnsupportedChannel, *w.ResponseChannel)
	}

	sentAt, ok := parseDate(*w.Date)
	if !ok {
		return models.RequestEnvelope{}, time.Time{}, fmt.Errorf("%w: date %q is not ISO-8601", ErrMalformedEnvelope, *w.Date)
	}

	// w.ID is a valid JSON token here; IsFloat rejects every non-number kind.
	rawID := string(w.ID)
	if !govalidator.IsFloat(rawID) {
		return models.RequestEnvelope{}, time.Time{}, fmt.Errorf("%w: id must be a number, got %s", ErrMalformedEnvelope, rawID)
	}

	return models.RequestEnvelope{
		Data:            w.Data,
		RequestID:       *w.RequestID,
		ResponseChannel: *w.ResponseChannel,
		Date:            *w.Date,
		ID:              json.Number(rawID),
	}, sentAt, nil
}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseReserveData(raw json.RawMessage) (int, error) {
	var d wireReserveData
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, fmt.Errorf("%w: data must be an object: %v", ErrInvalidRequest, err)
	}
	if isAbsent(d.Count) {
		return 0, fmt.Errorf("%w: count is required", ErrInvalidRequest)
	}

	rawCount := string(d.Count)
	if !govalidator.IsInt(rawCount) {
		return 0, fmt.Errorf("%w: count must be an integer, got %s", ErrInvalidRequest, rawCount)
	}
	count, err := strconv.Atoi(rawCount)
	if err != nil || !govalidator.InRangeInt(count, models.MinReserveCount, models.MaxReserveCount) {
		return 0, fmt.Errorf("%w: count must be in [%d,%d], got %s",
			ErrInvalidRequest, models.MinReserveCount, models.MaxReserveCount, rawCount)
	}
	return count, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
