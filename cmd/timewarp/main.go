// Command timewarp runs a timewarp server or sends time offsets to one.
package main

func main() {
	Execute()
}
