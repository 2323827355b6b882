package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mpdemo/client"
	"mpdemo/protocol"
	"mpdemo/state"
)

// lobbybot 无界面的测试客户端：创建或加入房间，绕圈走动，延迟后准备
func main() {
	endpoint := flag.String("server", "ws://localhost:2567", "server websocket endpoint")
	room := flag.String("room", "", "room code to join, empty to create")
	codecName := flag.String("codec", "json", "wire codec: json or msgpack")
	skin := flag.Int("skin", 0, "skin index")
	readyAfter := flag.Duration("ready-after", 2*time.Second, "send ready after this delay, 0 to never")
	duration := flag.Duration("duration", 0, "exit after this long, 0 to run until interrupted")
	radius := flag.Float64("radius", 3, "walk circle radius")
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	codec, err := protocol.CodecByName(*codecName)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	gw := client.NewGateway(client.New(*endpoint, client.Options{Codec: codec, Log: log}))
	if err := gw.SetSkin(ctx, *skin); err != nil {
		log.Fatalf("set skin: %v", err)
	}

	joinCtx, cancelJoin := context.WithTimeout(ctx, 5*time.Second)
	var m *client.Membership
	if *room == "" {
		m, err = gw.CreateGame(joinCtx)
	} else {
		m, err = gw.JoinGame(joinCtx, *room)
	}
	cancelJoin()
	if err != nil {
		log.Fatalf("enter room: %v", err)
	}
	log.Infof("in room: room=%s session=%s", m.RoomID(), m.SessionID())

	// 退出时使用独立的 ctx，保证离开通知能发出
	defer gw.LeaveGame(context.Background())

	if err := run(ctx, gw, client.NewMembershipSession(m, client.SessionOptions{Log: log}), *readyAfter, *radius, log); err != nil {
		log.Errorf("bot stopped: %v", err)
	}
}

func run(ctx context.Context, gw *client.Gateway, s *client.Session, readyAfter time.Duration, radius float64, log *zap.SugaredLogger) error {
	frame := time.Second / protocol.SimTickHz
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	var elapsed time.Duration
	sentReady := false
	nextJump := 3 * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		elapsed += frame

		if readyAfter > 0 && !sentReady && elapsed >= readyAfter {
			if err := gw.SetReady(ctx, true); err != nil {
				return err
			}
			sentReady = true
			log.Infof("ready sent: room=%s", s.Replica().RoomID())
		}

		jump := elapsed >= nextJump
		if jump {
			nextJump += 3 * time.Second
		}
		res, err := s.Frame(ctx, frame, client.FrameInput{Motion: circle(elapsed, radius), JumpPressed: jump})
		if err != nil {
			return err
		}
		if res.Closed != nil {
			return res.Closed
		}
		if len(res.Added) > 0 || len(res.Removed) > 0 {
			log.Infof("roster changed: room=%s players=%s %s", s.Replica().RoomID(), s.Replica().PlayerCount(), formatRoster(s.Replica().Roster()))
		}
		if res.Started {
			log.Infof("start game received: room=%s", s.Replica().RoomID())
		}
	}
}

// circle 沿圆周行走的运动样本
func circle(t time.Duration, radius float64) state.Motion {
	a := t.Seconds()
	return state.Motion{
		X:          radius * math.Cos(a),
		Z:          radius * math.Sin(a),
		RotationY:  math.Mod(90-a*180/math.Pi, 360),
		VelocityX:  -radius * math.Sin(a),
		VelocityZ:  radius * math.Cos(a),
		AnimInputY: 1,
		IsGrounded: true,
	}
}

func formatRoster(lines []client.RosterLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		s := l.SessionID
		if l.IsLocal {
			s += "(me)"
		}
		if l.IsReady {
			s += "*"
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
