package dropbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

type dropboxCall struct {
	endpoint      string
	authorization string
	arg           string
	body          string
}

func useTestEndpoints(t *testing.T, svr *httptest.Server, upload int64) {
	originOauthTokenEndpoint := oauthTokenEndpoint
	originUploadSessionEndpoint := uploadSessionEndpoint
	originUploadSessionAppendEndpoint := uploadSessionAppendEndpoint
	originUploadSessionFinish := uploadSessionFinishEndpoint
	originMaxUpload := maxUpload

	oauthTokenEndpoint = svr.URL + "/oauth2/token"
	uploadSessionEndpoint = svr.URL + "/start"
	uploadSessionAppendEndpoint = svr.URL + "/append_v2"
	uploadSessionFinishEndpoint = svr.URL + "/finish"
	maxUpload = upload

	t.Cleanup(func() {
		oauthTokenEndpoint = originOauthTokenEndpoint
		uploadSessionEndpoint = originUploadSessionEndpoint
		uploadSessionAppendEndpoint = originUploadSessionAppendEndpoint
		uploadSessionFinishEndpoint = originUploadSessionFinish
		maxUpload = originMaxUpload
	})
}

func newDropboxServer(t *testing.T) (*httptest.Server, *[]dropboxCall) {
	var mu sync.Mutex
	calls := make([]dropboxCall, 0)

	record := func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		defer mu.Unlock()

		calls = append(calls, dropboxCall{
			endpoint:      r.URL.Path,
			authorization: r.Header.Get("Authorization"),
			arg:           r.Header.Get("Dropbox-API-Arg"),
			body:          string(body),
		})
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"access_token":"sl.BYBntuwSqTes9FsYOrJ68Hi","token_type":"bearer","expires_in":14400}`)
	})

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprintln(w, `{"session_id":"123jlsdfdsfjksjdkf"}`)
	})

	mux.HandleFunc("/append_v2", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprintln(w, "null")
	})

	mux.HandleFunc("/finish", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		fmt.Fprintln(w, `{"name":"backup__20211102171552.sql"}`)
	})

	svr := httptest.NewServer(mux)
	t.Cleanup(svr.Close)

	return svr, &calls
}

func TestSave(t *testing.T) {
	assert := assert.New(t)

	svr, calls := newDropboxServer(t)
	useTestEndpoints(t, svr, 4)

	dropbox := &Dropbox{
		Path:         "/backups",
		RefreshToken: "refresh",
		ClientId:     "clientid",
		ClientSecret: "clientsecret",
	}

	err := dropbox.Save(context.Background(), strings.NewReader("file upload"), "backup__20211102171552.sql")
	assert.Nil(err)

	assert.Len(*calls, 4)

	endpoints := make([]string, 0, len(*calls))
	for _, call := range *calls {
		endpoints = append(endpoints, call.endpoint)
		assert.Equal("Bearer sl.BYBntuwSqTes9FsYOrJ68Hi", call.authorization)
	}

	assert.Equal([]string{"/start", "/append_v2", "/append_v2", "/finish"}, endpoints)
	assert.Equal("file", (*calls)[1].body)
	assert.Equal(" upl", (*calls)[2].body)
	assert.Equal("oad", (*calls)[3].body)

	var finish uploadSessionFinishParam
	assert.Nil(json.Unmarshal([]byte((*calls)[3].arg), &finish))
	assert.Equal("/backups/backup__20211102171552.sql", finish.Commit.Path)
	assert.Equal("overwrite", finish.Commit.Mode)
	assert.Equal(int64(8), finish.Cursor.Offset)
	assert.Equal("123jlsdfdsfjksjdkf", finish.Cursor.SessionId)
}

func TestSaveExactChunk(t *testing.T) {
	assert := assert.New(t)

	svr, calls := newDropboxServer(t)
	useTestEndpoints(t, svr, 4)

	dropbox := &Dropbox{Path: "/backups", RefreshToken: "refresh"}

	err := dropbox.Save(context.Background(), strings.NewReader("file"), "backup__20211102171552.sql")
	assert.Nil(err)

	assert.Len(*calls, 3)
	assert.Equal("/finish", (*calls)[2].endpoint)
	assert.Equal("", (*calls)[2].body)
}

func TestUploadSessionFailure(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"access_token":"token","token_type":"bearer","expires_in":14400}`)
	})

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintln(w, "conflict")
	})

	svr := httptest.NewServer(mux)
	defer svr.Close()

	useTestEndpoints(t, svr, 4)

	dropbox := &Dropbox{RefreshToken: "refresh"}

	err := dropbox.Save(context.Background(), strings.NewReader("file upload"), "backup__20211102171552.sql")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "get status code: 409")
}

func TestTokenFailure(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"invalid_grant"}`)
	})

	svr := httptest.NewServer(mux)
	defer svr.Close()

	useTestEndpoints(t, svr, 4)

	dropbox := &Dropbox{RefreshToken: "expired"}

	err := dropbox.Save(context.Background(), strings.NewReader("file upload"), "backup__20211102171552.sql")
	assert.NotNil(t, err)
}
