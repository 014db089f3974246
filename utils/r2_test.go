package utils

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestR2Uploader_PutObject(t *testing.T) {
	fake := &fakeS3{}
	u := &R2Uploader{Client: fake, Bucket: "progress", CDNBaseURL: "https://cdn.example.com"}

	url, err := u.PutObject(context.Background(), "snapshots/2026-10-15/u1.json", []byte(`{"ok":true}`), "application/json")
	if err != nil {
		t.Fatalf("PutObject() error: %v", err)
	}
	if url != "https://cdn.example.com/snapshots/2026-10-15/u1.json" {
		t.Errorf("url = %q", url)
	}
	if aws.ToString(fake.in.Bucket) != "progress" || aws.ToString(fake.in.ContentType) != "application/json" {
		t.Errorf("input = %+v", fake.in)
	}
	if string(fake.body) != `{"ok":true}` {
		t.Errorf("body = %s", fake.body)
	}
}

func TestR2Uploader_PutObjectError(t *testing.T) {
	u := &R2Uploader{Client: &fakeS3{err: errors.New("denied")}, Bucket: "b", CDNBaseURL: "https://cdn"}
	if _, err := u.PutObject(context.Background(), "k", nil, "text/plain"); err == nil {
		t.Error("expected upload error")
	}
}

func TestR2Config_Enabled(t *testing.T) {
	full := R2Config{AccountID: "a", AccessKeyID: "k", AccessKeySecret: "s", Bucket: "b"}
	if !full.Enabled() {
		t.Error("complete config should be enabled")
	}
	full.Bucket = ""
	if full.Enabled() {
		t.Error("config without bucket should be disabled")
	}
}

func TestNewR2Uploader_DefaultCDN(t *testing.T) {
	u, err := NewR2Uploader(context.Background(), R2Config{
		AccountID: "acct", AccessKeyID: "k", AccessKeySecret: "s", Bucket: "progress",
	})
	if err != nil {
		t.Fatalf("NewR2Uploader() error: %v", err)
	}
	if u.CDNBaseURL != "https://acct.r2.cloudflarestorage.com/progress" {
		t.Errorf("CDNBaseURL = %q", u.CDNBaseURL)
	}
}
