package services

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerJobUnknownName(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewSchedulerService(nil, nil, nil, nil, nil, nil, NewUserLocks(), nil, nil, testRecConfig(), logger)

	err := s.TriggerJob("defragment_vhs")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSchedulerStartDisabled(t *testing.T) {
	cfg := testRecConfig()
	cfg.Scheduling.Enabled = false

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewSchedulerService(nil, nil, nil, nil, nil, nil, NewUserLocks(), nil, nil, cfg, logger)

	require.NoError(t, s.Start())
	assert.Nil(t, s.cron, "disabled scheduling registers no cron")
	s.Stop()
}

func TestSchedulerStartRejectsBadCron(t *testing.T) {
	cfg := testRecConfig()
	cfg.Scheduling.Enabled = true
	cfg.Scheduling.DailyGenerationCron = "not a cron spec"

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewSchedulerService(nil, nil, nil, nil, nil, nil, NewUserLocks(), nil, nil, cfg, logger)

	assert.Error(t, s.Start())
}

func TestDedupeUserIDs(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	out := dedupeUserIDs([]uuid.UUID{a, b, a, a, b})
	assert.Equal(t, []uuid.UUID{a, b}, out)

	assert.Empty(t, dedupeUserIDs(nil))
}

func TestUserLocksSerializeSameUser(t *testing.T) {
	locks := NewUserLocks()
	userID := uuid.New()

	unlock := locks.Lock(userID)

	acquired := make(chan struct{})
	go func() {
		u := locks.Lock(userID)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestUserLocksIndependentStripes(t *testing.T) {
	locks := NewUserLocks()

	// Two UUIDs in different stripes must not block each other.
	a := uuid.MustParse("00000000-0000-0000-0000-000000000000")
	b := uuid.MustParse("01010000-0000-0000-0000-000000000000")
	require.NotEqual(t, stripeIndex(a), stripeIndex(b))

	unlockA := locks.Lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		u := locks.Lock(b)
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different stripe blocked")
	}
}

func TestUserLocksConcurrentMutation(t *testing.T) {
	locks := NewUserLocks()
	userID := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(userID)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
