package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/liweiyi88/onebackup/storage"
)

var (
	oauthTokenEndpoint          = "https://api.dropboxapi.com/oauth2/token"
	uploadSessionEndpoint       = "https://content.dropboxapi.com/2/files/upload_session/start"
	uploadSessionAppendEndpoint = "https://content.dropboxapi.com/2/files/upload_session/append_v2"
	uploadSessionFinishEndpoint = "https://content.dropboxapi.com/2/files/upload_session/finish"
)

const MB int64 = 1 << 20

// Dropbox limits of file upload per api call.
var maxUpload = 150 * MB

type uploadSessionParam struct {
	Close bool `json:"close"`
}

type Cursor struct {
	Offset    int64  `json:"offset"`
	SessionId string `json:"session_id"`
}

type Commit struct {
	Path           string `json:"path,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Autorename     bool   `json:"autorename"`
	Mute           bool   `json:"mute"`
	StrictConflict bool   `json:"strict_conflict"`
}

type uploadSessionFinishParam struct {
	Cursor Cursor `json:"cursor"`
	Commit Commit `json:"commit"`
}

type uploadSessionAppendParam struct {
	Close  bool   `json:"close"`
	Cursor Cursor `json:"cursor"`
}

type uploadSessionResponse struct {
	SessionId string `json:"session_id"`
}

type Dropbox struct {
	Path         string `yaml:"path"` // remote folder, e.g. /backups
	RefreshToken string `yaml:"refreshtoken"`
	ClientId     string `yaml:"clientid"`
	ClientSecret string `yaml:"clientsecret"`
}

// The refresh token flow is handled by oauth2, access tokens are renewed before they expire.
func (dropbox *Dropbox) httpClient(ctx context.Context) *http.Client {
	conf := &oauth2.Config{
		ClientID:     dropbox.ClientId,
		ClientSecret: dropbox.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  oauthTokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return conf.Client(ctx, &oauth2.Token{RefreshToken: dropbox.RefreshToken})
}

// Save streams the backup through an upload session, one request per maxUpload bytes.
func (dropbox *Dropbox) Save(ctx context.Context, reader io.Reader, name string) error {
	client := dropbox.httpClient(ctx)

	sessionId, err := dropbox.startUploadSession(ctx, client)
	if err != nil {
		return err
	}

	slog.Debug("started dropbox upload session", slog.String("session", sessionId))

	var offset int64
	buf := make([]byte, maxUpload)

	for {
		n, readErr := io.ReadFull(reader, buf)

		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return fmt.Errorf("failed to read from reader :%v", readErr)
		}

		// a short read means this chunk is the last one
		if readErr != nil {
			if err := dropbox.uploadSessionFinish(ctx, client, buf[:n], offset, sessionId, name); err != nil {
				return err
			}

			slog.Debug("finished dropbox upload session", slog.Int64("size", offset+int64(n)))
			return nil
		}

		if err := dropbox.uploadSessionAppend(ctx, client, buf[:n], offset, sessionId); err != nil {
			return err
		}

		offset += int64(n)
	}
}

func (dropbox *Dropbox) startUploadSession(ctx context.Context, client *http.Client) (string, error) {
	body, err := dropbox.sendRequest(ctx, client, uploadSessionEndpoint, nil, uploadSessionParam{Close: false})
	if err != nil {
		return "", fmt.Errorf("failed to send upload session start request %v", err)
	}

	var sessionResponse uploadSessionResponse

	if err = json.Unmarshal(body, &sessionResponse); err != nil {
		return "", fmt.Errorf("could not unmarshal upload session response :%v", err)
	}

	if sessionResponse.SessionId == "" {
		return "", errors.New("dropbox did not return an upload session id")
	}

	return sessionResponse.SessionId, nil
}

func (dropbox *Dropbox) uploadSessionFinish(ctx context.Context, client *http.Client, data []byte, offset int64, sessionId, name string) error {
	param := uploadSessionFinishParam{
		Commit: Commit{
			Path: storage.RemotePath(dropbox.Path, name),
			Mode: "overwrite",
		},
		Cursor: Cursor{
			Offset:    offset,
			SessionId: sessionId,
		},
	}

	_, err := dropbox.sendRequest(ctx, client, uploadSessionFinishEndpoint, data, param)
	return err
}

func (dropbox *Dropbox) uploadSessionAppend(ctx context.Context, client *http.Client, data []byte, offset int64, sessionId string) error {
	param := uploadSessionAppendParam{
		Close: false,
		Cursor: Cursor{
			Offset:    offset,
			SessionId: sessionId,
		},
	}

	_, err := dropbox.sendRequest(ctx, client, uploadSessionAppendEndpoint, data, param)
	return err
}

func (dropbox *Dropbox) sendRequest(ctx context.Context, client *http.Client, url string, data []byte, param any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	paramJson, err := json.Marshal(param)
	if err != nil {
		return nil, fmt.Errorf("could not encode param into json %v", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(paramJson))

	response, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send dropbox request %v", err)
	}

	defer func() {
		if err := response.Body.Close(); err != nil {
			slog.Error("failed to close dropbox response body", slog.Any("error", err))
		}
	}()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s is not successful, get status code: %d, body: %s", url, response.StatusCode, string(body))
	}

	return body, nil
}
