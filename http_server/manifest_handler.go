package http_server

import (
	"errors"
	"net/http"

	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/manifest"
)

type (
	AppendEntriesReqBody struct {
		Entries []manifest.ManifestEntry `validate:"required,min=1"`
	}

	WriteManifestReqBody struct {
		// Destination below the table root. Existing files are never overwritten.
		Path    string                   `validate:"required"`
		Entries []manifest.ManifestEntry `validate:"required,min=1"`
	}

	WriteManifestRes struct {
		Path  string
		Bytes int64
	}
)

func (s *HTTPServer) AppendManifestEntriesHandler(c *CustomContext) error {
	var reqBody AppendEntriesReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if s.deps.Manifests == nil {
		return c.String(http.StatusServiceUnavailable, ErrNoManifestStore.Error())
	}

	if err := s.deps.Manifests.AppendManifestEntries(c.Request().Context(), reqBody.Entries); err != nil {
		return c.InternalError(err, "error appending manifest entries")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) WriteManifestFileHandler(c *CustomContext) error {
	var reqBody WriteManifestReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	p := s.tablePath(reqBody.Path)
	n, err := manifest.WriteManifestFile(c.Request().Context(), s.deps.FileIO, p, reqBody.Entries)
	if errors.Is(err, fileio.ErrFileExists) {
		return c.String(http.StatusConflict, err.Error())
	}
	if err != nil {
		return c.InternalError(err, "error writing manifest file")
	}
	return c.JSON(http.StatusOK, WriteManifestRes{
		Path:  cleanRelative(reqBody.Path),
		Bytes: n,
	})
}
