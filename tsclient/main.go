package main

import (
	"bufio"
	"flag"
	"io"
	"net"
	"os"

	"github.com/caleberi/chatrelay/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

type closeWriter interface {
	CloseWrite() error
}

// send writes every line of in to conn and half-closes the connection once
// in is exhausted, so the server sees a clean disconnect.
func send(conn net.Conn, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if _, err := conn.Write(append(scanner.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "cannot send line")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "cannot read input")
	}
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// chat runs until the server closes the connection.
func chat(conn net.Conn, in io.Reader, out io.Writer) error {
	go func() {
		if err := send(conn, in); err != nil {
			log.Err(err).Stack().Msg("input stopped")
		}
	}()
	if _, err := io.Copy(out, conn); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "connection lost")
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := flag.String("addr", string(common.DefaultServerAddr), "chat server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msgf("cannot connect to %s", *addr)
	}
	defer conn.Close()

	log.Info().Msgf("connected to %s", conn.RemoteAddr())
	if err := chat(conn, os.Stdin, os.Stdout); err != nil {
		log.Err(err).Stack().Msg("chat ended")
		return
	}
	log.Info().Msg("server closed the connection")
}
