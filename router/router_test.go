package router

import (
	"testing"

	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/trace"
)

func TestStaticRouterDispatchesToHandler(t *testing.T) {
	svc := service.New(`{"protocol":"demo.Echo"}`)
	r := NewStaticRouter(func(tr trace.Trace, req []byte) ([]byte, error) {
		return append([]byte("echo:"), req...), nil
	}, svc)

	var got []byte
	r.Channel().Call(trace.New(nil), []byte("hi"), func(resp []byte, err error) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = resp
	})
	if string(got) != "echo:hi" {
		t.Fatalf("got %q", got)
	}
}

func TestStaticRouterServiceFor(t *testing.T) {
	svc := service.New(`{"protocol":"demo.Echo"}`)
	other := service.New(`{"protocol":"demo.Other"}`)
	r := NewStaticRouter(nil, svc)

	if got, ok := r.ServiceFor(svc); !ok || got.Hash() != svc.Hash() {
		t.Fatalf("expected to resolve the known service, got %v, %v", got, ok)
	}
	if _, ok := r.ServiceFor(other); ok {
		t.Fatal("expected an unknown service to not resolve")
	}
}

func TestStaticRouterEmit(t *testing.T) {
	r := NewStaticRouter(nil)
	var event string
	var payload any
	r.OnEvent(func(e string, p any) {
		event = e
		payload = p
	})
	r.Emit("error", "boom")
	if event != "error" || payload != "boom" {
		t.Fatalf("got event=%q payload=%v", event, payload)
	}
}
