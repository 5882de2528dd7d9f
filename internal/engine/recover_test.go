package engine

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRunRecovered_PassesThroughSuccess(t *testing.T) {
	l := logrus.New()
	err := runRecovered(l, "worker-1", func() error { return nil })
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRunRecovered_PassesThroughError(t *testing.T) {
	l := logrus.New()
	want := errors.New("boom")
	err := runRecovered(l, "worker-1", func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRunRecovered_ConvertsPanicToError(t *testing.T) {
	l := logrus.New()
	err := runRecovered(l, "worker-1", func() error {
		panic("something went wrong")
	})
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
}
