// Package main provides rendergate-fetch, a one-shot command that renders a
// single URL in a headless browser and prints the final DOM.
//
// Usage:
//
//	rendergate-fetch https://example.com
//	rendergate-fetch --selector '#app' --output page.html https://example.com
//
// Configuration is read from the same RENDERGATE_* environment as the server;
// flags override it.
package main

func main() {
	Execute()
}
