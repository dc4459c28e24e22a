package ocrqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

type fakeSQS struct {
	err    error
	bodies []string
	urls   []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bodies = append(f.bodies, aws.ToString(params.MessageBody))
	f.urls = append(f.urls, aws.ToString(params.QueueUrl))
	return &sqs.SendMessageOutput{}, nil
}

func newTestPublisher(api SQSAPI, chunkSize int) *Publisher {
	p := NewPublisher(PublisherConfig{
		API:           api,
		QueueURL:      "https://sqs.test/ocr-queue",
		Enabled:       true,
		PageChunkSize: chunkSize,
	})
	p.now = func() time.Time { return time.Date(2023, 4, 28, 9, 15, 0, 0, time.UTC) }
	return p
}

func TestPublish(t *testing.T) {
	api := &fakeSQS{}
	p := newTestPublisher(api, 10)

	sent := p.Publish(context.Background(), "szse", "ann_001", "raw", "szse/ann_001.pdf",
		[]int{3, 1, 3}, records.Metadata{CompanyName: "Ping An Bank"})
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if api.urls[0] != "https://sqs.test/ocr-queue" {
		t.Errorf("queue url = %q", api.urls[0])
	}

	var job Job
	if err := json.Unmarshal([]byte(api.bodies[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.Version != Version {
		t.Errorf("version = %d", job.Version)
	}
	if job.Exchange != "SZSE" {
		t.Errorf("exchange = %q", job.Exchange)
	}
	if len(job.BrokenPages) != 2 || job.BrokenPages[0] != 1 || job.BrokenPages[1] != 3 {
		t.Errorf("broken_pages = %v", job.BrokenPages)
	}
	if job.SubmittedAt != "2023-04-28T09:15:00.000000Z" {
		t.Errorf("submitted_at = %q", job.SubmittedAt)
	}
	if job.Metadata.CompanyName != "Ping An Bank" {
		t.Errorf("metadata = %+v", job.Metadata)
	}
}

func TestPublishChunksPages(t *testing.T) {
	api := &fakeSQS{}
	p := newTestPublisher(api, 3)

	pages := []int{1, 2, 3, 4, 5, 6, 7}
	sent := p.Publish(context.Background(), "SZSE", "doc", "b", "k", pages, records.Metadata{})
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}

	var total int
	for _, body := range api.bodies {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			t.Fatal(err)
		}
		if len(job.BrokenPages) > 3 {
			t.Errorf("chunk too large: %v", job.BrokenPages)
		}
		total += len(job.BrokenPages)
	}
	if total != 7 {
		t.Errorf("pages across chunks = %d, want 7", total)
	}
}

func TestPublishDisabled(t *testing.T) {
	api := &fakeSQS{}
	p := NewPublisher(PublisherConfig{API: api, QueueURL: "url", Enabled: false})

	if sent := p.Publish(context.Background(), "SZSE", "doc", "b", "k", []int{1}, records.Metadata{}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
	if len(api.bodies) != 0 {
		t.Error("disabled publisher sent messages")
	}
}

func TestPublishMissingQueueURL(t *testing.T) {
	api := &fakeSQS{}
	p := NewPublisher(PublisherConfig{API: api, Enabled: true})

	if sent := p.Publish(context.Background(), "SZSE", "doc", "b", "k", []int{1}, records.Metadata{}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
}

func TestPublishMissingIdentifiers(t *testing.T) {
	api := &fakeSQS{}
	p := newTestPublisher(api, 10)

	if sent := p.Publish(context.Background(), "", "doc", "b", "k", []int{1}, records.Metadata{}); sent != 0 {
		t.Errorf("sent = %d for empty exchange, want 0", sent)
	}
	if sent := p.Publish(context.Background(), "SZSE", "", "b", "k", []int{1}, records.Metadata{}); sent != 0 {
		t.Errorf("sent = %d for empty source id, want 0", sent)
	}
	if len(api.bodies) != 0 {
		t.Error("messages sent despite missing identifiers")
	}
}

func TestPublishNoBrokenPages(t *testing.T) {
	api := &fakeSQS{}
	p := newTestPublisher(api, 10)

	if sent := p.Publish(context.Background(), "SZSE", "doc", "b", "k", nil, records.Metadata{}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
}

func TestPublishSendFailureSkips(t *testing.T) {
	api := &fakeSQS{err: errors.New("throttled")}
	p := newTestPublisher(api, 2)

	sent := p.Publish(context.Background(), "SZSE", "doc", "b", "k", []int{1, 2, 3, 4}, records.Metadata{})
	if sent != 0 {
		t.Errorf("sent = %d, want 0 on persistent send failure", sent)
	}
}

func TestPublishRoundTripsThroughParseJob(t *testing.T) {
	api := &fakeSQS{}
	p := newTestPublisher(api, 10)

	p.Publish(context.Background(), "hkex", "doc_9", "b", "hkex/doc_9.pdf", []int{2, 5}, records.Metadata{FilingType: "interim"})

	job, err := ParseJob([]byte(api.bodies[0]))
	if err != nil {
		t.Fatalf("published message failed validation: %v", err)
	}
	if job.Exchange != "HKEX" || job.SourceID != "doc_9" || job.Metadata.FilingType != "interim" {
		t.Errorf("job = %+v", job)
	}
}
