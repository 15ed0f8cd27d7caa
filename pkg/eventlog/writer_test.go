package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/proto"
)

func TestWriteAndReadBack(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck

	now := time.Now().UTC()
	transitions := []proto.StatusChangeNotification{
		{FeatureID: "f1", From: proto.StatusBacklog, To: proto.StatusInProgress, Timestamp: now},
		{FeatureID: "f1", From: proto.StatusInProgress, To: proto.StatusWaitingApproval, Timestamp: now.Add(time.Minute)},
	}
	for i := range transitions {
		require.NoError(t, w.WriteTransition(&transitions[i]))
	}

	got, err := w.ReadDay(time.Now())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].FeatureID)
	assert.Equal(t, proto.StatusInProgress, got[0].To)
	assert.Equal(t, proto.StatusWaitingApproval, got[1].To)
}

func TestReadDayMissingFile(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck

	got, err := w.ReadDay(time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConsumeDrainsChannel(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck

	ch := make(chan proto.StatusChangeNotification, 4)
	ch <- proto.StatusChangeNotification{FeatureID: "f1", From: proto.StatusBacklog, To: proto.StatusInProgress, Timestamp: time.Now().UTC()}
	ch <- proto.StatusChangeNotification{FeatureID: "f2", From: proto.StatusBacklog, To: proto.StatusInProgress, Timestamp: time.Now().UTC()}
	close(ch)

	w.Consume(ch)

	got, err := w.ReadDay(time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
