// Package api exposes the parser engine over HTTP. Parsing is synchronous
// from the client's point of view: the handler submits a job to the worker
// pool and waits for its terminal state, so pool backpressure translates
// directly into request latency.
package api

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"moneywright/internal/extract"
	"moneywright/internal/kvstore"
	"moneywright/internal/logging"
	"moneywright/internal/parsercache"
	"moneywright/internal/pipeline"
	"moneywright/internal/records"
)

// maxUploadBytes caps statement uploads. Bank statements are small; anything
// bigger is almost certainly not one.
const maxUploadBytes = 32 << 20

// Server wires the HTTP surface to the worker pool and the cache.
type Server struct {
	pool  *pipeline.Pool
	store *kvstore.Store
}

// NewServer builds the HTTP surface.
func NewServer(pool *pipeline.Pool, store *kvstore.Store) *Server {
	return &Server{pool: pool, store: store}
}

// App constructs the fiber application with all routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "moneywright",
		BodyLimit:             maxUploadBytes,
		DisableStartupMessage: true,
	})

	v1 := app.Group("/api/v1")
	v1.Get("/health", s.handleHealth)
	v1.Post("/parse", s.handleParse)
	v1.Get("/parsers", s.handleListParsers)
	v1.Delete("/parsers/:source/:fileType", s.handleDeleteParsers)
	return app
}

// parseRequest is the JSON body of POST /parse. Multipart uploads carry the
// same fields as form values plus a "file" part instead of documentText.
type parseRequest struct {
	Source       string                   `json:"source"`
	FileType     string                   `json:"fileType"`
	Mode         string                   `json:"mode"`
	DocumentText string                   `json:"documentText"`
	Expected     *records.ExpectedSummary `json:"expected,omitempty"`
}

// parseResponse reports one finished parse.
type parseResponse struct {
	Success          bool                  `json:"success"`
	JobID            string                `json:"jobId"`
	Mode             records.ParsingMode   `json:"mode"`
	Transactions     []records.Transaction `json:"transactions,omitempty"`
	Holdings         []records.Holding     `json:"holdings,omitempty"`
	Count            int                   `json:"count"`
	Total            float64               `json:"total"`
	UsedVersion      int                   `json:"usedVersion"`
	TriedVersions    []int                 `json:"triedVersions,omitempty"`
	FreshlyGenerated bool                  `json:"freshlyGenerated"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func fail(c *fiber.Ctx, status int, format string, args ...interface{}) error {
	return c.Status(status).JSON(errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleParse(c *fiber.Ctx) error {
	req, err := decodeParseRequest(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "%v", err)
	}

	mode, err := records.ParseMode(req.Mode)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "%v", err)
	}
	if req.Source == "" {
		return fail(c, fiber.StatusBadRequest, "source is required")
	}
	if req.DocumentText == "" {
		return fail(c, fiber.StatusBadRequest, "no document text (provide documentText or upload a file)")
	}
	if req.FileType == "" {
		req.FileType = "pdf"
	}

	job, err := s.pool.Submit(c.Context(), pipeline.Request{
		Source:       req.Source,
		FileType:     req.FileType,
		Mode:         mode,
		DocumentText: req.DocumentText,
		Expected:     req.Expected,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			return fail(c, fiber.StatusServiceUnavailable, "parser engine is shutting down")
		}
		return fail(c, fiber.StatusServiceUnavailable, "submit failed: %v", err)
	}

	out, err := job.Wait(c.Context())
	if err != nil {
		logging.API("parse job %s failed: %v", job.ID, err)
		return fail(c, fiber.StatusUnprocessableEntity, "%v", err)
	}

	return c.JSON(parseResponse{
		Success:          true,
		JobID:            job.ID,
		Mode:             out.Set.Mode,
		Transactions:     out.Set.Transactions,
		Holdings:         out.Set.Holdings,
		Count:            out.Set.Count(),
		Total:            out.Set.Total(),
		UsedVersion:      out.UsedVersion,
		TriedVersions:    out.TriedVersions,
		FreshlyGenerated: out.FreshlyGenerated,
	})
}

// decodeParseRequest accepts either a JSON body or a multipart form with an
// uploaded statement file.
func decodeParseRequest(c *fiber.Ctx) (parseRequest, error) {
	var req parseRequest

	form, err := c.MultipartForm()
	if err != nil || form == nil {
		if err := c.BodyParser(&req); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
		return req, nil
	}

	req.Source = formValue(form.Value, "source")
	req.FileType = formValue(form.Value, "fileType")
	req.Mode = formValue(form.Value, "mode")

	files := form.File["file"]
	if len(files) == 0 {
		return req, fmt.Errorf("no file uploaded (use form field %q)", "file")
	}
	header := files[0]
	if req.FileType == "" {
		ext := filepath.Ext(header.Filename)
		if len(ext) > 1 {
			req.FileType = ext[1:]
		}
	}

	// fiber keeps small uploads in memory; spool to disk for the extractor.
	tmp := filepath.Join(os.TempDir(), uuid.NewString()+filepath.Ext(header.Filename))
	if err := c.SaveFile(header, tmp); err != nil {
		return req, fmt.Errorf("failed to store upload: %w", err)
	}
	defer os.Remove(tmp)

	text, err := extract.FromFile(tmp)
	if err != nil {
		return req, fmt.Errorf("failed to extract text from %s: %w", header.Filename, err)
	}
	req.DocumentText = text
	return req, nil
}

func formValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parsersResponse lists cached parser keys per namespace.
type parsersResponse struct {
	Statements  []parsercache.KeyInfo `json:"statements"`
	Investments []parsercache.KeyInfo `json:"investments"`
}

func (s *Server) handleListParsers(c *fiber.Ctx) error {
	statements, err := parsercache.ForMode(s.store, false).ListKeys()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "failed to list parsers: %v", err)
	}
	investments, err := parsercache.ForMode(s.store, true).ListKeys()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "failed to list parsers: %v", err)
	}
	return c.JSON(parsersResponse{Statements: statements, Investments: investments})
}

func (s *Server) handleDeleteParsers(c *fiber.Ctx) error {
	source, err := url.PathUnescape(c.Params("source"))
	if err != nil || source == "" {
		return fail(c, fiber.StatusBadRequest, "invalid source")
	}
	fileType := c.Params("fileType")
	key := parsercache.NormalizeKey(source, fileType)

	removed := 0
	for _, holding := range []bool{false, true} {
		n, err := parsercache.ForMode(s.store, holding).ClearAll(key)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "failed to clear parsers: %v", err)
		}
		removed += n
	}

	logging.API("cleared %d cached versions for %s", removed, key)
	return c.JSON(fiber.Map{"success": true, "key": key, "removed": removed})
}
