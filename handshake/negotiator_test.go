package handshake

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/rasata/nettybridge/service"
	"github.com/rasata/nettybridge/wire"
)

func TestPrepareAndHandleHandshake(t *testing.T) {
	cv.Convey("given a client with no cached server hash", t, func() {
		clientSvc := service.New(`{"protocol":"demo.Echo"}`)
		hashes := map[[16]byte][16]byte{}

		cv.Convey("PrepareRequest falls back to the client's own hash", func() {
			hs := PrepareRequest(clientSvc, hashes, false)
			cv.So(hs.ServerHash, cv.ShouldResemble, clientSvc.Hash())
			cv.So(hs.ClientProtocol, cv.ShouldBeNil)
		})

		cv.Convey("PrepareRequest on a mismatch retry attaches the protocol text", func() {
			hs := PrepareRequest(clientSvc, hashes, true)
			cv.So(hs.ClientProtocol, cv.ShouldNotBeNil)
			cv.So(*hs.ClientProtocol, cv.ShouldEqual, clientSvc.Protocol())
		})

		cv.Convey("HandleResponse with a serverProtocol caches the mapping and resolves the new service", func() {
			serverServices := map[[16]byte]service.Service{}
			serverHash := [16]byte{9, 9, 9}
			serverProtocol := `{"protocol":"demo.Server"}`
			hs := &wire.Handshake{ServerHash: serverHash, ServerProtocol: &serverProtocol, Match: wire.MatchClient}

			resolved, retry := HandleResponse(clientSvc, hashes, serverServices, hs, false)

			cv.So(retry, cv.ShouldBeFalse)
			cv.So(resolved.Hash(), cv.ShouldResemble, serverHash)
			cv.So(resolved.Protocol(), cv.ShouldEqual, serverProtocol)
			cv.So(hashes[clientSvc.Hash()], cv.ShouldResemble, serverHash)
			cv.So(serverServices[serverHash], cv.ShouldNotBeNil)
		})

		cv.Convey("HandleResponse with match NONE and no prior retry asks for a retry", func() {
			serverServices := map[[16]byte]service.Service{}
			hs := &wire.Handshake{Match: wire.MatchNone}

			_, retry := HandleResponse(clientSvc, hashes, serverServices, hs, false)
			cv.So(retry, cv.ShouldBeTrue)
		})

		cv.Convey("HandleResponse never asks for a second retry on the same call", func() {
			serverServices := map[[16]byte]service.Service{}
			hs := &wire.Handshake{Match: wire.MatchNone}

			_, retry := HandleResponse(clientSvc, hashes, serverServices, hs, true)
			cv.So(retry, cv.ShouldBeFalse)
		})

		cv.Convey("HandleResponse with no serverProtocol and an unresolved hash falls back to the client's own service", func() {
			serverServices := map[[16]byte]service.Service{}
			hs := &wire.Handshake{Match: wire.MatchBoth}

			resolved, _ := HandleResponse(clientSvc, hashes, serverServices, hs, false)
			cv.So(resolved, cv.ShouldEqual, clientSvc)
		})
	})
}

func TestServerMatch(t *testing.T) {
	cv.Convey("ServerMatch reports BOTH when the server already knows the client's protocol", t, func() {
		cv.So(ServerMatch(true), cv.ShouldEqual, wire.MatchBoth)
	})
	cv.Convey("ServerMatch reports CLIENT when the server doesn't yet know it", t, func() {
		cv.So(ServerMatch(false), cv.ShouldEqual, wire.MatchClient)
	})
}
