// README: tracksim entry point.
package main

func main() {
	execute()
}
