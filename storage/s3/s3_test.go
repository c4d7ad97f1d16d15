package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/liweiyi88/onebackup/env"
	"github.com/stretchr/testify/assert"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

func newS3Server(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	var mu sync.Mutex
	requests := make([]recordedRequest, 0)

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		requests = append(requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
			return
		}

		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))

	t.Cleanup(svr.Close)

	return svr, &requests
}

func TestNewS3(t *testing.T) {
	assert := assert.New(t)

	s3 := NewS3("onebackup", "db/backups", "ap-southeast-2", "accessKey", "secret", "token")

	assert.Equal("onebackup", s3.Bucket)
	assert.Equal("db/backups", s3.Prefix)
	assert.Equal("ap-southeast-2", s3.Region)
	assert.Equal("accessKey", s3.AccessKeyId)
	assert.Equal("secret", s3.SecretAccessKey)
	assert.Equal("token", s3.SessionToken)
	assert.True(s3.HasCredentials())
}

func TestApplyCredentials(t *testing.T) {
	assert := assert.New(t)
	credentials := env.AWSCredentials{
		AccessKeyID:     "envKey",
		SecretAccessKey: "envSecret",
		SessionToken:    "envToken",
		Region:          "us-east-1",
	}

	s3 := &S3{Bucket: "onebackup"}
	assert.False(s3.HasCredentials())

	s3.ApplyCredentials(credentials)
	assert.Equal("envKey", s3.AccessKeyId)
	assert.Equal("envSecret", s3.SecretAccessKey)
	assert.Equal("envToken", s3.SessionToken)
	assert.Equal("us-east-1", s3.Region)

	s3 = NewS3("onebackup", "", "ap-southeast-2", "fileKey", "fileSecret", "")
	s3.ApplyCredentials(credentials)
	assert.Equal("fileKey", s3.AccessKeyId)
	assert.Equal("ap-southeast-2", s3.Region)
}

func TestSave(t *testing.T) {
	assert := assert.New(t)
	svr, requests := newS3Server(t, http.StatusOK)

	s3 := NewS3("onebackup", "db/backups", "us-east-1", "accessKey", "secret", "")
	s3.Endpoint = svr.URL

	err := s3.Save(context.Background(), strings.NewReader("SET NAMES utf8;"), "backup__20211102171552.sql")
	assert.Nil(err)

	assert.Len(*requests, 1)
	request := (*requests)[0]
	assert.Equal(http.MethodPut, request.method)
	assert.Equal("/onebackup/db/backups/backup__20211102171552.sql", request.path)
	assert.Contains(request.body, "SET NAMES utf8;")
}

func TestSaveFailure(t *testing.T) {
	assert := assert.New(t)
	svr, _ := newS3Server(t, http.StatusForbidden)

	s3 := NewS3("onebackup", "", "us-east-1", "accessKey", "secret", "")
	s3.Endpoint = svr.URL

	err := s3.Save(context.Background(), strings.NewReader("SET NAMES utf8;"), "backup__20211102171552.sql")
	assert.NotNil(err)
	assert.Contains(err.Error(), "fail to upload file to s3 bucket onebackup, key: backup__20211102171552.sql")
	assert.Contains(err.Error(), "AccessDenied")
}
