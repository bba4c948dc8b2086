package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dbsmedya/goharvest/internal/logger"
)

// DriveOptions configures a DriveStore.
type DriveOptions struct {
	BaseURL     string
	AccessToken string
	MimeType    string
	Retries     int
	Timeout     time.Duration
}

// DriveStore stores datasets as Google Drive files through the v3 REST API.
type DriveStore struct {
	http     *resty.Client
	mimeType string
	logger   *logger.Logger
}

type driveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Trashed  bool   `json:"trashed"`
}

type driveFileList struct {
	Files []driveFile `json:"files"`
}

type driveError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewDriveStore creates a DriveStore authenticated with a bearer token.
func NewDriveStore(opts DriveOptions, log *logger.Logger) *DriveStore {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.googleapis.com"
	}
	if opts.MimeType == "" {
		opts.MimeType = "text/csv"
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetAuthToken(opts.AccessToken)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.Retries > 0 {
		client.SetRetryCount(opts.Retries)
		client.SetRetryWaitTime(500 * time.Millisecond)
		client.SetRetryMaxWaitTime(5 * time.Second)
		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	}

	return &DriveStore{http: client, mimeType: opts.MimeType, logger: log}
}

// Exists looks the file up by id. A missing or trashed file does not exist;
// any other failure, including permission errors, is returned as an error.
func (s *DriveStore) Exists(ctx context.Context, id string) (bool, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{
			"fields":            "id,name,mimeType,trashed",
			"supportsAllDrives": "true",
		}).
		SetResult(&driveFile{}).
		SetError(&driveError{}).
		Get("/drive/v3/files/{id}")
	if err != nil {
		return false, fmt.Errorf("drive lookup %s: %w", id, err)
	}

	switch {
	case res.StatusCode() == http.StatusNotFound:
		return false, nil
	case res.IsError():
		return false, apiError("lookup", id, res)
	}

	file := res.Result().(*driveFile)
	if file.Trashed {
		s.logger.Warnw("Drive file is trashed", "id", id, "name", file.Name)
		return false, nil
	}
	return true, nil
}

// Fetch downloads the file content.
func (s *DriveStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{
			"alt":               "media",
			"supportsAllDrives": "true",
		}).
		SetError(&driveError{}).
		Get("/drive/v3/files/{id}")
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", id, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("drive download %s: %w", id, ErrNotFound)
	}
	if res.IsError() {
		return nil, apiError("download", id, res)
	}

	body := res.Body()
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// Update overwrites the file content in place.
func (s *DriveStore) Update(ctx context.Context, id string, data []byte) (string, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{
			"uploadType":        "media",
			"supportsAllDrives": "true",
			"fields":            "id,name",
		}).
		SetHeader("Content-Type", s.mimeType).
		SetBody(data).
		SetResult(&driveFile{}).
		SetError(&driveError{}).
		Patch("/upload/drive/v3/files/{id}")
	if err != nil {
		return "", fmt.Errorf("drive update %s: %w", id, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("drive update %s: %w", id, ErrNotFound)
	}
	if res.IsError() {
		return "", apiError("update", id, res)
	}

	file := res.Result().(*driveFile)
	if file.ID == "" {
		return id, nil
	}
	return file.ID, nil
}

// Find lists the non-trashed files named name in folder parentID. When
// several match, the oldest one is returned.
func (s *DriveStore) Find(ctx context.Context, parentID, name string) (string, bool, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":                         findQuery(parentID, name),
			"fields":                    "files(id,name)",
			"orderBy":                   "createdTime",
			"supportsAllDrives":         "true",
			"includeItemsFromAllDrives": "true",
		}).
		SetResult(&driveFileList{}).
		SetError(&driveError{}).
		Get("/drive/v3/files")
	if err != nil {
		return "", false, fmt.Errorf("drive find %s: %w", name, err)
	}
	if res.IsError() {
		return "", false, apiError("find", name, res)
	}

	list := res.Result().(*driveFileList)
	if len(list.Files) == 0 {
		return "", false, nil
	}
	if len(list.Files) > 1 {
		s.logger.Warnw("Several drive files share a name", "name", name, "parent", parentID, "count", len(list.Files))
	}
	return list.Files[0].ID, true, nil
}

// findQuery builds a files.list query. Quotes and backslashes in values are
// escaped as the Drive query language requires.
func findQuery(parentID, name string) string {
	esc := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", esc.Replace(name), esc.Replace(parentID))
}

// Create makes a new file under parentID and uploads data into it.
func (s *DriveStore) Create(ctx context.Context, parentID, name string, data []byte) (string, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"supportsAllDrives": "true",
			"fields":            "id,name",
		}).
		SetBody(map[string]interface{}{
			"name":     name,
			"parents":  []string{parentID},
			"mimeType": s.mimeType,
		}).
		SetResult(&driveFile{}).
		SetError(&driveError{}).
		Post("/drive/v3/files")
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", name, err)
	}
	if res.IsError() {
		return "", apiError("create", name, res)
	}

	file := res.Result().(*driveFile)
	if file.ID == "" {
		return "", fmt.Errorf("drive create %s: response carried no id", name)
	}
	s.logger.Infow("Created drive file", "id", file.ID, "name", name, "parent", parentID)

	return s.Update(ctx, file.ID, data)
}

func apiError(op, id string, res *resty.Response) error {
	if e, ok := res.Error().(*driveError); ok && e.Error.Message != "" {
		return fmt.Errorf("drive %s %s: status %d: %s", op, id, res.StatusCode(), e.Error.Message)
	}
	return fmt.Errorf("drive %s %s: status %d", op, id, res.StatusCode())
}
