package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/atomicswap/atomengine/internal/models"
	"github.com/atomicswap/atomengine/internal/protocol"
)

// Seed the relay with sample orders through the real wire protocol.
func main() {
	addr := flag.String("addr", "127.0.0.1:7788", "relay server address")
	key := flag.String("key", "", "shared secret for the seeded orders")
	flag.Parse()

	nc, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer nc.Close()
	reader := bufio.NewReader(nc)

	send(nc, &protocol.Request{
		Command: protocol.CmdInit,
		Curs: []protocol.CurrencyAddrs{
			{Addrs: []string{"seed-btc-addr", "seed-ltc-addr"}},
		},
	})
	readReply(reader)

	orders := []models.OrderSpec{
		{SendCur: "BTC", SendCount: 100000, GetCur: "LTC", GetCount: 20000000, GetAddr: "seed-ltc-addr"},
		{SendCur: "LTC", SendCount: 50000000, GetCur: "BTC", GetCount: 250000, GetAddr: "seed-btc-addr"},
		{SendCur: "BTC", SendCount: 200000, GetCur: "DCR", GetCount: 1500000, GetAddr: "seed-btc-addr"},
	}
	for _, spec := range orders {
		o := spec
		send(nc, &protocol.Request{Command: protocol.CmdCreateOrder, Order: &o, Key: *key})
		readReply(reader)
	}

	fmt.Println("Successfully seeded the relay with sample orders!")
}

func send(nc net.Conn, req *protocol.Request) {
	data, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}
	if _, err := nc.Write(append(data, '\n')); err != nil {
		log.Fatalf("Failed to send request: %v", err)
	}
}

func readReply(reader *bufio.Reader) {
	line, err := reader.ReadString('\n')
	if err != nil {
		log.Fatalf("Failed to read reply: %v", err)
	}
	fmt.Print(line)
}
