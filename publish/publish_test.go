package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/report"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published  []message
	flushed    int
	drained    bool
	publishErr error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{subject, data})
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error {
	f.flushed++
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

type fakeStream struct {
	published []message
	deadline  bool
}

func (f *fakeStream) Publish(ctx context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	_, f.deadline = ctx.Deadline()
	f.published = append(f.published, message{subject, payload})
	return &jetstream.PubAck{Stream: "REPORTS", Sequence: uint64(len(f.published))}, nil
}

func document() export.Document {
	return export.Document{
		Drawing: "tower.level 1",
		RunID:   "run-1",
		Report: report.Aggregate([]engine.Verdict{
			{ClauseID: "1.1", Status: engine.StatusPass},
		}),
	}
}

func TestNATSPublisher_Core(t *testing.T) {
	c := &fakeConn{}
	p := newNATSPublisher(c, nil, Options{Subject: "codecomply.reports."})

	require.NoError(t, p.Publish(context.Background(), document()))
	require.Len(t, c.published, 1)
	assert.Equal(t, "codecomply.reports.tower-level-1", c.published[0].subject)
	assert.Equal(t, 1, c.flushed)

	var got export.Document
	require.NoError(t, json.Unmarshal(c.published[0].data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, engine.StatusPass, got.Report.Summary.Overall)

	require.NoError(t, p.Close())
	assert.True(t, c.drained)
}

func TestNATSPublisher_JetStream(t *testing.T) {
	c := &fakeConn{}
	js := &fakeStream{}
	p := newNATSPublisher(c, js, Options{Subject: "reports", Timeout: time.Second})

	require.NoError(t, p.Publish(context.Background(), document()))
	assert.Empty(t, c.published, "core publish is not used with JetStream")
	require.Len(t, js.published, 1)
	assert.Equal(t, "reports.tower-level-1", js.published[0].subject)
	assert.True(t, js.deadline)
}

func TestNATSPublisher_Error(t *testing.T) {
	c := &fakeConn{publishErr: errors.New("connection closed")}
	p := newNATSPublisher(c, nil, Options{Subject: "reports"})

	err := p.Publish(context.Background(), document())
	assert.ErrorContains(t, err, "connection closed")
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"plan":         "plan",
		"a.b":          "a-b",
		"level *> 2":   "level----2",
		"  ":           "unnamed",
		"north-wing_3": "north-wing_3",
	}
	for in, want := range tests {
		assert.Equal(t, want, SubjectToken(in), in)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), document()))
	assert.NoError(t, p.Close())
}
