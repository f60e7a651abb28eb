package ksink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureRegistry_EmptyInitially(t *testing.T) {
	r := NewFailureRegistry()
	assert.True(t, r.Empty())
	assert.Empty(t, r.Snapshot())
}

func TestFailureRegistry_ReportAndSnapshotOrder(t *testing.T) {
	r := NewFailureRegistry()
	e1 := errors.New("one")
	e2 := errors.New("two")
	r.Report(e1)
	r.Report(e2)

	assert.False(t, r.Empty())
	assert.Equal(t, []error{e1, e2}, r.Snapshot())
}

func TestFailureRegistry_NilReportIgnored(t *testing.T) {
	r := NewFailureRegistry()
	r.Report(nil)
	assert.True(t, r.Empty())
}

func TestFailureRegistry_EvictsOldestPastCap(t *testing.T) {
	r := NewFailureRegistry()
	var want []error
	for i := 0; i < failureRegistryCap+3; i++ {
		err := errors.New("err")
		want = append(want, err)
		r.Report(err)
	}

	snap := r.Snapshot()
	assert.Len(t, snap, failureRegistryCap)
	assert.Equal(t, want[len(want)-failureRegistryCap:], snap)
}
