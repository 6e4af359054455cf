package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"polyfit/pkg/client"
	"polyfit/pkg/common"
	"polyfit/pkg/model"
)

func main() {
	fmt.Println("Connecting to polyfit...")
	cli, err := client.Dial("localhost:9090")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cli.Close()

	points := []common.Point{{X: 0, Y: 3}, {X: 1, Y: 2}, {X: 2, Y: 3}}

	fmt.Printf("Interpolating %v\n", points)
	start := time.Now()
	coeffs, err := cli.Interpolate(points)
	if err != nil {
		log.Fatalf("Interpolate failed: %v", err)
	}
	fmt.Printf("%s (in %v)\n", coeffs.Format(), time.Since(start))

	y, err := cli.Evaluate(coeffs, 5)
	if err != nil {
		log.Fatalf("Evaluate failed: %v", err)
	}
	fmt.Printf("f(5) = %s\n", model.FormatNumber(y))

	// duplicate x is rejected with a typed error
	_, err = cli.Interpolate([]common.Point{{X: 1, Y: 1}, {X: 1, Y: 2}})
	var de *model.DegenerateInputError
	if errors.As(err, &de) {
		fmt.Printf("Rejected as expected: point %d is degenerate\n", de.Index)
	}
}
