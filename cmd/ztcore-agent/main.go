// ztcore-agent captures traffic on a LAN interface and streams
// per-device flow reports to the policy core. It is optional: the core
// runs on switch counters alone, the agent adds visibility on segments
// the switch cannot see.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/lcalzada-xor/ztcore/api/proto"
	"github.com/lcalzada-xor/ztcore/internal/adapters/sniffer"
)

func main() {
	serverAddr := flag.String("server", "localhost:9000", "policy core gRPC address")
	iface := flag.String("i", "eth0", "capture interface")
	bpf := flag.String("bpf", "", "optional BPF capture filter, e.g. \"ip\"")
	window := flag.Duration("window", 10*time.Second, "reporting window")
	agentID := flag.String("agent-id", "", "agent identifier (default: hostname)")
	promisc := flag.Bool("promisc", true, "capture in promiscuous mode")
	flag.Parse()

	id := *agentID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "ztcore-agent"
		}
		id = host
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	client := pb.NewFlowAgentClient(conn)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agg := sniffer.NewAggregator()
	capture := sniffer.New(sniffer.Config{Interface: *iface, BPF: *bpf, Promisc: *promisc})
	capture.RecordObservation(agg.Add)

	go func() {
		if err := capture.Run(ctx); err != nil {
			log.Printf("capture failed: %v", err)
			cancel()
		}
	}()

	stream, err := client.ReportFlows(ctx)
	if err != nil {
		log.Fatalf("open report stream: %v", err)
	}

	log.Printf("agent %s started: %s -> %s every %s", id, *iface, *serverAddr, *window)

	ticker := time.NewTicker(*window)
	defer ticker.Stop()
	lastDrain := time.Now()

	for {
		select {
		case <-ctx.Done():
			flush(stream, agg, id, time.Since(lastDrain).Seconds())
			if sum, err := stream.CloseAndRecv(); err != nil {
				log.Printf("close stream: %v", err)
			} else {
				log.Printf("agent stopping: %d reports accepted, %d devices registered", sum.GetAccepted(), sum.GetRegistered())
			}
			return

		case now := <-ticker.C:
			elapsed := now.Sub(lastDrain).Seconds()
			lastDrain = now
			if err := flush(stream, agg, id, elapsed); err != nil {
				log.Printf("send failed, reopening stream: %v", err)
				if stream, err = client.ReportFlows(ctx); err != nil {
					log.Printf("reopen report stream: %v", err)
					cancel()
				}
			}
		}
	}
}

// flush drains the current window and sends one report per device seen.
func flush(stream pb.FlowAgent_ReportFlowsClient, agg *sniffer.Aggregator, agentID string, elapsed float64) error {
	now := time.Now().Unix()
	for _, ws := range agg.Drain() {
		report := &pb.FlowReport{
			Mac:           ws.MAC,
			Packets:       ws.Packets,
			Bytes:         ws.Bytes,
			DstIps:        ws.DstIPs,
			Protocols:     ws.Protocols,
			WindowSeconds: elapsed,
			TimestampUnix: now,
			AgentId:       agentID,
			SrcIp:         ws.SrcIP,
		}
		for _, p := range ws.DstPorts {
			report.DstPorts = append(report.DstPorts, uint32(p))
		}
		if err := stream.Send(report); err != nil {
			return err
		}
	}
	return nil
}
