package main

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Karlson2k/libmicrohttpd-sub001/daemon"
	"github.com/Karlson2k/libmicrohttpd-sub001/digestauth"
	"github.com/Karlson2k/libmicrohttpd-sub001/filesystem"
	"github.com/Karlson2k/libmicrohttpd-sub001/socket"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

const name = "github.com/Karlson2k/libmicrohttpd-sub001/example"

var (
	meter   = otel.Meter(name)
	logger  = otelslog.NewLogger(name)
	rollCnt metric.Int64Counter
)

func init() {
	var err error
	rollCnt, err = meter.Int64Counter("dice.rolls",
		metric.WithDescription("The number of rolls by roll value"),
		metric.WithUnit("{roll}"))
	if err != nil {
		panic(err)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() error {
	files, err := filesystem.New("./public")
	if err != nil {
		return err
	}
	files.WithIndex("index.html")

	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return err
	}

	var d *daemon.Daemon
	d = daemon.New(func(req *daemon.Request) daemon.Action {
		switch string(req.Path()) {
		case "/roll":
			return rollDice(req)
		case "/secret":
			return protected(d, req)
		default:
			return serveFile(files, req)
		}
	}).
		WithBindPort(socket.FamilyDual, 8080).
		WithWorkerPool(4).
		WithTimeout(30).
		WithLogger(logger).
		WithDigestAuth(entropy, 1024, 300).
		WithTerminationCallback(func(req *daemon.Request, term daemon.Termination) {
			// Descriptor-backed file bodies are closed once their cycle ends.
			if f, ok := openFiles.LoadAndDelete(req.ConnID()); ok {
				f.(*os.File).Close()
			}
			logger.Info("request done",
				"path", string(req.Path()), "termination", term.String())
		})

	if st := d.Start(); st != daemon.SCOK {
		log.Fatalf("start failed: %v", st)
	}
	logger.Info("listening", "port", 8080)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	d.Destroy()
	return nil
}

func rollDice(req *daemon.Request) daemon.Action {
	n, err := rand.Int(rand.Reader, big.NewInt(6))
	if err != nil {
		return daemon.Respond(stream.NewReply(500))
	}
	roll := n.Int64() + 1
	logger.Info("rolling the dice", "result", roll, "peer", req.PeerIP())
	rollCnt.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int64("roll.value", roll)))

	body := []byte(strconv.FormatInt(roll, 10) + "\n")
	return daemon.Respond(stream.NewReply(200).
		WithBuffer(body).
		AddField("Content-Type", "text/plain"))
}

func protected(d *daemon.Daemon, req *daemon.Request) daemon.Action {
	v, st := d.DigestVerifier("example")
	if st != daemon.SCOK {
		return daemon.Respond(stream.NewReply(500))
	}
	now := uint32(time.Now().Unix())
	res := v.Check(req.HTTP(), "joe", "password", now)
	if res == digestauth.ResultOk {
		return daemon.Respond(stream.NewReply(200).WithBuffer([]byte("welcome joe\n")))
	}
	var peer [16]byte
	n, _ := req.PeerAddr(peer[:])
	reply := stream.NewReply(401).WithBuffer([]byte("authentication required\n"))
	for _, ch := range v.Challenges(peer[:n], now, res.Retryable(), false) {
		reply.AddField("WWW-Authenticate", ch)
	}
	return daemon.Respond(reply)
}

// openFiles maps a connection to the file backing its in-flight reply.
// One file per request cycle; the termination callback closes it.
var openFiles sync.Map

func serveFile(files *filesystem.Server, req *daemon.Request) daemon.Action {
	res, err := files.Serve(req.Path())
	if err != nil {
		return daemon.Respond(stream.NewReply(404).WithBuffer([]byte("not found\n")))
	}
	if res.File != nil {
		openFiles.Store(req.ConnID(), res.File)
	}
	return daemon.Respond(res.Reply)
}
