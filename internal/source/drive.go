package source

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveSourceName is the datasource identifier for Google Drive.
const DriveSourceName = "drive"

// exportableMimeTypes maps Google Workspace types to the text export type.
var exportableMimeTypes = map[string]string{
	"application/vnd.google-apps.document":     "text/plain",
	"application/vnd.google-apps.presentation": "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
}

// maxContentBytes caps a single document download. Anything bigger gets
// rejected upstream by content length gates anyway.
const maxContentBytes = 10 << 20

// TokenProvider returns per-user OAuth credentials. The operator side owns
// the consent flow and refresh-token storage; the adapter only consumes
// token sources.
type TokenProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// DriveConfig holds configuration for the Google Drive adapter.
type DriveConfig struct {
	// PageSize is the Drive list page size. Default: 100
	PageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *DriveConfig) ApplyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 100
	}
}

// DriveAdapter lists and fetches documents from Google Drive with each
// user's own OAuth token, so listing reflects exactly that user's access.
type DriveAdapter struct {
	tokens TokenProvider
	config DriveConfig

	// newService is swapped in tests.
	newService func(ctx context.Context, ts oauth2.TokenSource) (*drive.Service, error)
}

// NewDriveAdapter creates a DriveAdapter.
func NewDriveAdapter(tokens TokenProvider, config DriveConfig) *DriveAdapter {
	config.ApplyDefaults()
	return &DriveAdapter{
		tokens: tokens,
		config: config,
		newService: func(ctx context.Context, ts oauth2.TokenSource) (*drive.Service, error) {
			return drive.NewService(ctx, option.WithTokenSource(ts))
		},
	}
}

// Name implements Adapter.
func (d *DriveAdapter) Name() string {
	return DriveSourceName
}

func (d *DriveAdapter) service(ctx context.Context, userID string) (*drive.Service, error) {
	ts, err := d.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: no token for user %s: %v", ErrAuthFailed, userID, err)
	}
	svc, err := d.newService(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return svc, nil
}

// ListAccessibleDocuments implements Adapter. It pages through every
// non-trashed text-bearing file the user can read.
func (d *DriveAdapter) ListAccessibleDocuments(ctx context.Context, userID string) ([]Document, error) {
	svc, err := d.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := "trashed = false and (" +
		"mimeType = 'application/vnd.google-apps.document' or " +
		"mimeType = 'application/vnd.google-apps.presentation' or " +
		"mimeType = 'application/vnd.google-apps.spreadsheet' or " +
		"mimeType contains 'text/')"

	var documents []Document
	pageToken := ""
	for {
		call := svc.Files.List().
			Context(ctx).
			Q(query).
			PageSize(int64(d.config.PageSize)).
			Fields("nextPageToken, files(id, name, mimeType, modifiedTime, webViewLink)")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classifyDriveError("listing files", err)
		}

		for _, f := range resp.Files {
			doc := Document{
				ID:       f.Id,
				Title:    f.Name,
				URL:      f.WebViewLink,
				MimeType: f.MimeType,
			}
			if f.ModifiedTime != "" {
				if ts, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
					doc.ModifiedAt = ts
				}
			}
			documents = append(documents, doc)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return documents, nil
}

// FetchContent implements Adapter. Google Workspace documents are exported
// as text; everything else is downloaded directly.
func (d *DriveAdapter) FetchContent(ctx context.Context, userID, documentID string) (string, error) {
	svc, err := d.service(ctx, userID)
	if err != nil {
		return "", err
	}

	meta, err := svc.Files.Get(documentID).Context(ctx).Fields("id, mimeType").Do()
	if err != nil {
		return "", classifyDriveError("loading file metadata", err)
	}

	var body io.ReadCloser
	if exportType, ok := exportableMimeTypes[meta.MimeType]; ok {
		r, err := svc.Files.Export(documentID, exportType).Context(ctx).Download()
		if err != nil {
			return "", classifyDriveError("exporting document", err)
		}
		body = r.Body
	} else {
		r, err := svc.Files.Get(documentID).Context(ctx).Download()
		if err != nil {
			return "", classifyDriveError("downloading document", err)
		}
		body = r.Body
	}
	defer body.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, io.LimitReader(body, maxContentBytes)); err != nil {
		return "", fmt.Errorf("%w: reading document body: %v", ErrFetchFailed, err)
	}
	return sb.String(), nil
}

// classifyDriveError maps Drive API errors to the adapter's sentinels.
func classifyDriveError(operation string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("%w: %s: %v", ErrAuthFailed, operation, err)
		case 404:
			return fmt.Errorf("%w: %s: %v", ErrNotFound, operation, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrFetchFailed, operation, err)
}
