package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/queue"
)

func TestBulkServiceCreateJobImmediate(t *testing.T) {
	t.Parallel()

	var createdJob *domain.Job
	var createdMessages []*domain.Message
	var published []queue.JobMessage

	repo := &fakeJobRepo{
		createWithMessagesFn: func(ctx context.Context, job *domain.Job, messages []*domain.Message) error {
			createdJob = job
			createdMessages = messages
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			if queueName != queue.DispatchQueue {
				t.Fatalf("queue = %q, want %q", queueName, queue.DispatchQueue)
			}
			published = append(published, msg)
			return nil
		},
	}

	svc, err := NewBulkService(repo, publisher, nil)
	if err != nil {
		t.Fatalf("NewBulkService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	job, err := svc.CreateJob(context.Background(), CreateJobInput{
		TenantID:     "acme",
		TemplateName: "welcome",
		LanguageCode: "en_US",
		Recipients:   []string{"111", " 222 "},
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if job.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if createdJob == nil || createdJob.ID != job.ID {
		t.Fatal("job should be persisted before publish")
	}
	if len(createdMessages) != 2 {
		t.Fatalf("message rows = %d, want 2", len(createdMessages))
	}
	for i, msg := range createdMessages {
		if msg.Status != domain.MessageStatusPending {
			t.Fatalf("message[%d].Status = %s, want pending", i, msg.Status)
		}
		if msg.Attempts != 0 {
			t.Fatalf("message[%d].Attempts = %d, want 0", i, msg.Attempts)
		}
		if msg.JobID != job.ID {
			t.Fatalf("message[%d].JobID = %q, want %q", i, msg.JobID, job.ID)
		}
	}
	if createdMessages[1].ToNumber != "222" {
		t.Fatalf("recipient = %q, want trimmed 222", createdMessages[1].ToNumber)
	}

	if len(published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(published))
	}
	if published[0].JobID != job.ID || published[0].TenantID != "acme" {
		t.Fatalf("published = %+v, want job %s for acme", published[0], job.ID)
	}
	if published[0].CorrelationID == "" {
		t.Fatal("correlation id should be assigned")
	}
}

func TestBulkServiceCreateJobScheduledAtDecidesStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	exactlyNow := now
	future := now.Add(time.Hour)
	futureOtherZone := now.Add(time.Hour).In(time.FixedZone("TRT", 3*60*60))

	testCases := []struct {
		name        string
		scheduledAt *time.Time
		wantStatus  domain.JobStatus
		wantPublish bool
	}{
		{name: "absent runs immediately", scheduledAt: nil, wantStatus: domain.JobStatusQueued, wantPublish: true},
		{name: "past runs immediately", scheduledAt: &past, wantStatus: domain.JobStatusQueued, wantPublish: true},
		{name: "exactly now runs immediately", scheduledAt: &exactlyNow, wantStatus: domain.JobStatusQueued, wantPublish: true},
		{name: "future is deferred", scheduledAt: &future, wantStatus: domain.JobStatusScheduled, wantPublish: false},
		{name: "future in another zone is deferred", scheduledAt: &futureOtherZone, wantStatus: domain.JobStatusScheduled, wantPublish: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			publishCount := 0
			publisher := &fakePublisher{
				publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
					publishCount++
					return nil
				},
			}

			svc, err := NewBulkService(&fakeJobRepo{}, publisher, nil)
			if err != nil {
				t.Fatalf("NewBulkService() error = %v", err)
			}
			svc.now = func() time.Time { return now }

			job, err := svc.CreateJob(context.Background(), CreateJobInput{
				TenantID:     "acme",
				TemplateName: "welcome",
				LanguageCode: "en_US",
				Recipients:   []string{"111"},
				ScheduledAt:  tc.scheduledAt,
			})
			if err != nil {
				t.Fatalf("CreateJob() error = %v", err)
			}

			if job.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", job.Status, tc.wantStatus)
			}
			if tc.wantPublish && publishCount != 1 {
				t.Fatalf("publish count = %d, want 1", publishCount)
			}
			if !tc.wantPublish && publishCount != 0 {
				t.Fatalf("publish count = %d, want 0", publishCount)
			}
			if job.ScheduledAt != nil && job.ScheduledAt.Location() != time.UTC {
				t.Fatalf("scheduledAt zone = %v, want UTC", job.ScheduledAt.Location())
			}
		})
	}
}

func TestBulkServiceCreateJobValidation(t *testing.T) {
	t.Parallel()

	svc, err := NewBulkService(&fakeJobRepo{}, &fakePublisher{}, nil)
	if err != nil {
		t.Fatalf("NewBulkService() error = %v", err)
	}

	testCases := []struct {
		name  string
		input CreateJobInput
	}{
		{
			name:  "no recipients",
			input: CreateJobInput{TenantID: "acme", TemplateName: "welcome", LanguageCode: "en_US"},
		},
		{
			name:  "blank recipient",
			input: CreateJobInput{TenantID: "acme", TemplateName: "welcome", LanguageCode: "en_US", Recipients: []string{"111", "  "}},
		},
		{
			name:  "missing template",
			input: CreateJobInput{TenantID: "acme", LanguageCode: "en_US", Recipients: []string{"111"}},
		},
		{
			name:  "missing language",
			input: CreateJobInput{TenantID: "acme", TemplateName: "welcome", Recipients: []string{"111"}},
		},
		{
			name:  "missing tenant",
			input: CreateJobInput{TemplateName: "welcome", LanguageCode: "en_US", Recipients: []string{"111"}},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := svc.CreateJob(context.Background(), tc.input)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("CreateJob() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestBulkServiceCreateJobPublishFailure(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			return errors.New("broker unavailable")
		},
	}

	svc, err := NewBulkService(&fakeJobRepo{}, publisher, nil)
	if err != nil {
		t.Fatalf("NewBulkService() error = %v", err)
	}

	_, err = svc.CreateJob(context.Background(), CreateJobInput{
		TenantID:     "acme",
		TemplateName: "welcome",
		LanguageCode: "en_US",
		Recipients:   []string{"111"},
	})
	if err == nil {
		t.Fatal("expected publish failure to surface")
	}
}

func TestBulkServiceGetJob(t *testing.T) {
	t.Parallel()

	repo := &fakeJobRepo{
		getByIDFn: func(ctx context.Context, tenantID, id string) (*domain.Job, error) {
			if tenantID != "acme" || id != "j1" {
				t.Fatalf("lookup = (%q, %q), want (acme, j1)", tenantID, id)
			}
			return &domain.Job{ID: id, TenantID: tenantID, Status: domain.JobStatusCompleted}, nil
		},
	}

	svc, err := NewBulkService(repo, &fakePublisher{}, nil)
	if err != nil {
		t.Fatalf("NewBulkService() error = %v", err)
	}

	job, err := svc.GetJob(context.Background(), "acme", "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.ID != "j1" {
		t.Fatalf("job id = %q, want j1", job.ID)
	}

	if _, err := svc.GetJob(context.Background(), "", "j1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetJob() without tenant error = %v, want ErrValidation", err)
	}
	if _, err := svc.GetJob(context.Background(), "acme", " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetJob() without id error = %v, want ErrValidation", err)
	}
}

type fakeJobRepo struct {
	createWithMessagesFn  func(ctx context.Context, job *domain.Job, messages []*domain.Message) error
	getByIDFn             func(ctx context.Context, tenantID, id string) (*domain.Job, error)
	getForDispatchFn      func(ctx context.Context, id string) (*domain.Job, error)
	getDueForScheduleFn   func(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	markQueuedIfScheduled func(ctx context.Context, id string) (bool, error)
	markProcessingFn      func(ctx context.Context, id string) error
	markCompletedFn       func(ctx context.Context, id string, completedAt time.Time) error
}

func (f *fakeJobRepo) CreateWithMessages(ctx context.Context, job *domain.Job, messages []*domain.Message) error {
	if f.createWithMessagesFn != nil {
		return f.createWithMessagesFn(ctx, job, messages)
	}
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) GetForDispatch(ctx context.Context, id string) (*domain.Job, error) {
	if f.getForDispatchFn != nil {
		return f.getForDispatchFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if f.getDueForScheduleFn != nil {
		return f.getDueForScheduleFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeJobRepo) MarkQueuedIfScheduled(ctx context.Context, id string) (bool, error) {
	if f.markQueuedIfScheduled != nil {
		return f.markQueuedIfScheduled(ctx, id)
	}
	return true, nil
}

func (f *fakeJobRepo) MarkProcessing(ctx context.Context, id string) error {
	if f.markProcessingFn != nil {
		return f.markProcessingFn(ctx, id)
	}
	return nil
}

func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	if f.markCompletedFn != nil {
		return f.markCompletedFn(ctx, id, completedAt)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.JobMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.JobMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}
