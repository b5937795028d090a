package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/pawchat/ws"
)

// The demo client opens one conversation on a running pawchat server, sends
// each stdin line as a text message and prints every push.

var (
	flagAddr      = flag.String("addr", "127.0.0.1:8000", "pawchat server address")
	flagUserID    = flag.String("uid", "demo", "local user id, sent as the x-uid cookie")
	flagUserName  = flag.String("uname", "Demo User", "local user name, sent as the x-uname cookie")
	flagDomain    = flag.String("domain", "vet", "partner domain: vet, trainer, shop, lostfound or petsocial")
	flagSurface   = flag.String("surface", "", "lost/found surface: lost or found")
	flagPartnerID = flag.String("partner-id", "d1", "partner id")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	u := url.URL{Scheme: "ws", Host: *flagAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Cookie", fmt.Sprintf("x-uid=%s", url.QueryEscape(*flagUserID)))
	header.Add("Cookie", fmt.Sprintf("x-uname=%s", url.QueryEscape(*flagUserName)))

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		glog.Exitf("dial %s error: %v", u.String(), err)
	}
	defer conn.Close()

	go func() {
		for {
			var msg ws.ServerMsg
			if err := conn.ReadJSON(&msg); err != nil {
				glog.Errorf("read error: %v", err)
				os.Exit(1)
			}
			printMsg(&msg)
		}
	}()

	open := &ws.ClientMsg{Open: &ws.OpenReq{
		Domain:    *flagDomain,
		Surface:   *flagSurface,
		PartnerID: *flagPartnerID,
	}}
	if err := conn.WriteJSON(open); err != nil {
		glog.Exitf("open error: %v", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var req *ws.ClientMsg
		switch line {
		case "":
			continue
		case "/export":
			req = &ws.ClientMsg{Export: &struct{}{}}
		case "/list":
			req = &ws.ClientMsg{List: &ws.ListReq{Domain: *flagDomain, Surface: *flagSurface}}
		case "/quit":
			_ = conn.WriteJSON(&ws.ClientMsg{Close: &struct{}{}})
			return
		default:
			req = &ws.ClientMsg{SendText: &ws.SendTextReq{Text: line}}
		}
		if err := conn.WriteJSON(req); err != nil {
			glog.Exitf("write error: %v", err)
		}
	}
}

func printMsg(msg *ws.ServerMsg) {
	switch {
	case msg.Error != nil:
		fmt.Printf("error %d (%s): %s\n", msg.Error.Code, msg.Error.Req, msg.Error.Message)
	case msg.Export != nil:
		fmt.Println(msg.Export.Text)
	case msg.Inbox != nil:
		for _, h := range msg.Inbox.Headers {
			fmt.Printf("%+v\n", *h)
		}
	case msg.Conversation != nil:
		v := msg.Conversation
		fmt.Printf("--- %s (%s) online=%v\n", v.DisplayName, v.ID, v.IsOnline)
		for _, m := range v.Messages {
			who := v.DisplayName
			if m.FromUser {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s (%s)\n", m.Timestamp.Format("15:04"), who, m.Content, m.Status)
		}
	case msg.Closed:
		fmt.Println("--- closed")
	}
}
