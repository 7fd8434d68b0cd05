package main

import (
	"log"

	"github.com/Karlson2k/libmicrohttpd-sub001/daemon"
	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

func main() {
	d := daemon.New(func(req *daemon.Request) daemon.Action {
		return daemon.Respond(stream.NewReply(200).WithBuffer([]byte("hello world")))
	}).WithBindPort(socket.FamilyV4, 8080)

	if st := d.Start(); st != daemon.SCOK {
		log.Fatalf("start: %v", st)
	}
	select {}
}
