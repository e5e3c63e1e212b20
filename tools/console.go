package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"
	"strings"
)

var ServerURL = "http://localhost:3024"
var CurrentUser string

var client *http.Client

// --- Models ---

type HelloResponse struct {
	W int      `json:"w"`
	H int      `json:"h"`
	C []string `json:"c"`
	S int      `json:"s"`
	U string   `json:"u"`
	V int64    `json:"v"`
}

type InfoResponse struct {
	Viewing int `json:"viewing"`
	Active  int `json:"active"`
}

type PixelInfoResponse struct {
	Mod int64  `json:"mod"`
	Usr string `json:"usr"`
	Nme string `json:"nme"`
}

type PlaceResponse struct {
	Next int64 `json:"next"`
}

func main() {
	if url := os.Getenv("CANVAS_SERVER"); url != "" {
		ServerURL = url
	}
	jar, _ := cookiejar.New(nil)
	client = &http.Client{Jar: jar}

	fmt.Println("Canvas Operator Console")
	fmt.Printf("Target Server: %s\n", ServerURL)
	fmt.Println("Commands: hello, info, pixel <x> <y>, register <captcha-token>, place <x> <y> <color>, state, quit")

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(strings.TrimSpace(text))
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "hello":
			doHello()
		case "info":
			doInfo()
		case "pixel":
			if len(parts) < 3 {
				fmt.Println("Usage: pixel <x> <y>")
				continue
			}
			doPixel(parts[1], parts[2])
		case "register":
			if len(parts) < 2 {
				fmt.Println("Usage: register <captcha-token>")
				continue
			}
			doRegister(parts[1])
		case "place":
			if len(parts) < 4 {
				fmt.Println("Usage: place <x> <y> <color>")
				continue
			}
			x, _ := strconv.Atoi(parts[1])
			y, _ := strconv.Atoi(parts[2])
			c, _ := strconv.Atoi(parts[3])
			doPlace(x, y, c)
		case "state":
			doState()
		case "quit", "exit":
			return
		default:
			fmt.Println("Unknown command:", parts[0])
		}
	}
}

func doHello() {
	resp, err := client.Get(ServerURL + "/hello")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	var h HelloResponse
	json.NewDecoder(resp.Body).Decode(&h)
	CurrentUser = h.U
	fmt.Printf("Canvas %dx%d | Chunk %d | Palette %d colors | Version %d\n", h.W, h.H, h.S, len(h.C), h.V)
	if h.U != "" {
		fmt.Printf("Identity: %s\n", h.U)
	} else {
		fmt.Println("No identity (run: register <captcha-token>)")
	}
}

func doInfo() {
	resp, err := client.Get(ServerURL + "/info")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	var i InfoResponse
	json.NewDecoder(resp.Body).Decode(&i)
	fmt.Printf("Viewing: %d | Active: %d\n", i.Viewing, i.Active)
}

func doPixel(xs, ys string) {
	resp, err := client.Get(ServerURL + "/info/" + xs + "/" + ys)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		fmt.Println("Never painted.")
		return
	}
	var p PixelInfoResponse
	json.NewDecoder(resp.Body).Decode(&p)
	fmt.Printf("Modified %d by %s (%s)\n", p.Mod, p.Nme, p.Usr)
}

func doRegister(captcha string) {
	req, _ := http.NewRequest("POST", ServerURL+"/register", nil)
	req.Header.Set("X-Captcha-Token", captcha)
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("Rejected (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return
	}
	var out struct {
		U string `json:"u"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	CurrentUser = out.U
	fmt.Println("Registered as", out.U)
}

func doPlace(x, y, c int) {
	if CurrentUser == "" {
		fmt.Println("No identity; run hello or register first.")
		return
	}
	payload, _ := json.Marshal([]int{x, y, c})
	req, _ := http.NewRequest("PUT", ServerURL+"/place", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", CurrentUser)
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	var p PlaceResponse
	json.NewDecoder(resp.Body).Decode(&p)
	if resp.StatusCode == 200 {
		fmt.Printf("Placed. Next allowed at %d\n", p.Next)
	} else if resp.StatusCode == 429 && p.Next > 0 {
		fmt.Printf("Too soon. Retry at %d\n", p.Next)
	} else {
		fmt.Printf("Rejected (%d)\n", resp.StatusCode)
	}
}

func doState() {
	resp, err := client.Get(ServerURL + "/state")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		fmt.Printf("Rejected (%d)\n", resp.StatusCode)
		return
	}
	var list []string
	json.NewDecoder(resp.Body).Decode(&list)
	for _, name := range list {
		fmt.Println(name)
	}
}
