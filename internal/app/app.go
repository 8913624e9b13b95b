package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"promptvault/internal/media"
	"promptvault/internal/util"
	"promptvault/pkg/domain"
	"promptvault/pkg/genai"
	"promptvault/pkg/storage"
	"promptvault/pkg/store"
)

// MediaAccess selects how uploaded media is handed back to clients.
const (
	MediaAccessPublic    = "public"
	MediaAccessPresigned = "presigned"
)

const presignExpiry = 15 * time.Minute

// Generator produces content from a prompt via the external service.
type Generator interface {
	Generate(ctx context.Context, req genai.Request) (json.RawMessage, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store         store.Store
	Objects       storage.ObjectStore
	Generator     Generator
	Resolver      *media.Resolver
	PublicBaseURL string
	MediaAccess   string
	Bucket        string
}

// App wires record storage, media storage, and the generation proxy.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	generator     Generator
	resolver      *media.Resolver
	publicBaseURL string
	mediaAccess   string
	bucket        string
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generation client required")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = media.NewResolver(cfg.Objects)
	}
	access := strings.TrimSpace(cfg.MediaAccess)
	if access == "" {
		access = MediaAccessPublic
	}
	if access != MediaAccessPublic && access != MediaAccessPresigned {
		return nil, fmt.Errorf("invalid media access mode %q", access)
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		generator:     cfg.Generator,
		resolver:      resolver,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		mediaAccess:   access,
		bucket:        cfg.Bucket,
	}, nil
}

// CreateRecordInput carries a new record plus optional inline media.
type CreateRecordInput struct {
	Prompt      string
	Result      json.RawMessage
	MediaBase64 string
	MediaType   string
	Metadata    map[string]any
}

// CreateRecord persists a new record, uploading inline media first when both
// the payload and its content type were supplied.
func (a *App) CreateRecord(ctx context.Context, in CreateRecordInput) (domain.Record, error) {
	if strings.TrimSpace(in.Prompt) == "" || len(in.Result) == 0 {
		return domain.Record{}, ErrMissingFields
	}
	rec := domain.Record{
		ID:        util.NewID(),
		Prompt:    in.Prompt,
		Result:    in.Result,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if in.MediaBase64 != "" && in.MediaType != "" {
		mediaBytes, err := base64.StdEncoding.DecodeString(in.MediaBase64)
		if err != nil {
			return domain.Record{}, fmt.Errorf("upload media: %w", err)
		}
		key := media.DefaultPrefix + util.NewMediaKey(in.MediaType)
		if err := a.objects.Put(ctx, key, bytes.NewReader(mediaBytes), int64(len(mediaBytes)), in.MediaType); err != nil {
			return domain.Record{}, fmt.Errorf("upload media: %w", err)
		}
		handle, err := a.mediaHandle(ctx, key)
		if err != nil {
			return domain.Record{}, fmt.Errorf("upload media: %w", err)
		}
		rec.MediaKey = key
		rec.MediaURL = handle
		rec.MediaType = in.MediaType
	}
	if err := a.store.SaveRecord(rec); err != nil {
		return domain.Record{}, fmt.Errorf("save record: %w", err)
	}
	return rec, nil
}

// GetRecord retrieves a record by ID.
func (a *App) GetRecord(_ context.Context, id string) (domain.Record, error) {
	rec, found, err := a.store.GetRecord(id)
	if err != nil {
		return domain.Record{}, fmt.Errorf("get record: %w", err)
	}
	if !found {
		return domain.Record{}, ErrNotFound
	}
	return rec, nil
}

// ListRecords returns all records, newest first.
func (a *App) ListRecords(_ context.Context) ([]domain.Record, error) {
	recs, err := a.store.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// UpdateRecordInput carries the whitelisted updatable fields. A nil Prompt or
// empty Result means the caller did not supply that field.
type UpdateRecordInput struct {
	Prompt *string
	Result json.RawMessage
}

// UpdateRecord applies whitelisted fields. Supplying no recognized field is a
// no-op that still succeeds, distinct from not-found.
func (a *App) UpdateRecord(_ context.Context, id string, in UpdateRecordInput) (domain.Record, error) {
	fields := make(map[string]any, 2)
	if in.Prompt != nil {
		fields["prompt"] = *in.Prompt
	}
	if len(in.Result) > 0 {
		fields["result"] = in.Result
	}
	rec, found, err := a.store.UpdateRecord(id, fields)
	if err != nil {
		return domain.Record{}, fmt.Errorf("update record: %w", err)
	}
	if !found {
		return domain.Record{}, ErrNotFound
	}
	return rec, nil
}

// DeleteRecord removes a record and makes a best-effort attempt to remove its
// media object. Media deletion failures are logged, never surfaced.
func (a *App) DeleteRecord(ctx context.Context, id string) error {
	rec, found, err := a.store.GetRecord(id)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	deleted, err := a.store.DeleteRecord(id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	key := rec.MediaKey
	if key == "" && rec.MediaURL != "" {
		key = a.keyFromMediaURL(rec.MediaURL)
	}
	if key != "" {
		if err := a.objects.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete media for record", "record_id", id, "key", key, "err", err)
		}
	}
	return nil
}

// GenerateInput is a validated-on-entry generation request.
type GenerateInput struct {
	Prompt string
	Mode   string
	Width  int
	Height int
	Style  string
	Count  int
	Save   *bool
}

var mediaRefPattern = regexp.MustCompile(`media://([A-Za-z0-9][\w./-]*)`)

// Generate proxies a generation request upstream. On success the exchange is
// recorded when saving is enabled (the default); a failed save is logged and
// never fails the request, the generation result is authoritative.
func (a *App) Generate(ctx context.Context, in GenerateInput) (domain.GenerationResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return domain.GenerationResult{}, ErrPromptRequired
	}
	mode := domain.Mode(in.Mode)
	if mode == "" {
		mode = domain.ModeText
	}
	if mode != domain.ModeText && mode != domain.ModeImage {
		return domain.GenerationResult{}, ErrInvalidMode
	}

	req := genai.Request{Prompt: in.Prompt, Mode: string(mode)}
	if mode == domain.ModeImage {
		req.Width, req.Height, req.Style, req.Count = imageDefaults(in)
	}
	result, err := a.generator.Generate(ctx, req)
	if err != nil {
		return domain.GenerationResult{}, err
	}
	if mode == domain.ModeImage {
		result = a.rewriteMediaRefs(result)
	}

	out := domain.GenerationResult{Result: result, Mode: mode, Prompt: in.Prompt}
	if in.Save == nil || *in.Save {
		rec := domain.Record{
			ID:        util.NewID(),
			Prompt:    in.Prompt,
			Result:    result,
			Mode:      mode,
			Service:   "genai",
			CreatedAt: time.Now().UTC(),
		}
		if err := a.store.SaveRecord(rec); err != nil {
			util.LoggerFromContext(ctx).Error("failed to save generation history", "err", err)
		} else {
			out.GenerationID = rec.ID
		}
	}
	return out, nil
}

func imageDefaults(in GenerateInput) (width, height int, style string, count int) {
	width, height, style, count = in.Width, in.Height, in.Style, in.Count
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}
	if style == "" {
		style = "vivid"
	}
	if count <= 0 {
		count = 1
	}
	return
}

// rewriteMediaRefs replaces internal media://name references with
// fully-qualified retrieval URLs rooted at this service, so downstream
// consumers never see internal addressing.
func (a *App) rewriteMediaRefs(result json.RawMessage) json.RawMessage {
	if a.publicBaseURL == "" || !mediaRefPattern.Match(result) {
		return result
	}
	rewritten := mediaRefPattern.ReplaceAll(result, []byte(a.publicBaseURL+"/images/$1"))
	return rewritten
}

// IngestRaw decodes a base64 JSON history event and persists the derived
// record. Both the push endpoint and the AMQP consumer feed this path.
func (a *App) IngestRaw(_ context.Context, encoded string) error {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &DecodeError{Reason: "decode failed", Err: err}
	}
	var event domain.HistoryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return &DecodeError{Reason: "decode failed", Err: err}
	}
	rec := domain.Record{
		ID:        util.NewID(),
		Prompt:    stringFromRaw(event.Request),
		Result:    event.Response,
		Service:   event.Service,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveRecord(rec); err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

// ServeMedia resolves an informal filename and returns the object bytes with
// a content type derived from the resolved key's extension.
func (a *App) ServeMedia(ctx context.Context, filename string) ([]byte, string, error) {
	key, err := a.resolver.Resolve(ctx, filename)
	if err != nil {
		return nil, "", err
	}
	data, storedType, err := a.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("get media: %w", err)
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = storedType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (a *App) mediaHandle(ctx context.Context, key string) (string, error) {
	if a.mediaAccess == MediaAccessPresigned {
		return a.objects.PresignGet(ctx, key, presignExpiry)
	}
	return a.objects.PublicURL(key), nil
}

// keyFromMediaURL recovers the object key from a stored public URL, for
// records that predate key persistence. Expected path: /<bucket>/<key>.
func (a *App) keyFromMediaURL(mediaURL string) string {
	parsed, err := url.Parse(mediaURL)
	if err != nil {
		return ""
	}
	parts := strings.SplitN(strings.Trim(parsed.Path, "/"), "/", 2)
	if len(parts) == 2 && parts[0] == a.bucket {
		return parts[1]
	}
	return ""
}

func stringFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
