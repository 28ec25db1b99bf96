package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/orders_backend/utils"
)

// mktoken mints a bearer token for calling the API against a business,
// signed with the same API_SECRET the server verifies with.
func main() {
	businessId := flag.String("business", "", "business id the token acts for")
	userId := flag.Int("user", 1, "acting user id")
	flag.Parse()

	if *businessId == "" {
		fmt.Fprintln(os.Stderr, "usage: mktoken -business <uuid> [-user <id>]")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userId, *businessId)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
