package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"ContractReview/sdk/go/reviewclient"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "reviewd base URL")
	file := flag.String("file", "", "document to upload before asking")
	query := flag.String("query", "Summarise the termination clauses.", "question for the model")
	modelID := flag.String("model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model id")
	async := flag.Bool("async", false, "submit as a background job and poll for the result")
	flag.Parse()

	client, err := reviewclient.NewClient(*addr, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}
	if key := os.Getenv("REVIEWD_API_KEY"); key != "" {
		client.SetAPIKey(key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("read %s: %v", *file, err)
		}
		uploaded, err := client.Upload(ctx, filepath.Base(*file), data)
		if err != nil {
			log.Fatalf("upload: %v", err)
		}
		fmt.Printf("uploaded %s (%s)\n", uploaded.Key, uploaded.ContentType)
	}

	req := reviewclient.GenerateRequest{Query: *query, Temperature: 0.2, MaxTokens: 512, ModelID: *modelID}
	if !*async {
		answer, err := client.Generate(ctx, req)
		if err != nil {
			log.Fatalf("generate: %v", err)
		}
		fmt.Println(answer)
		return
	}

	job, err := client.SubmitJob(ctx, req)
	if err != nil {
		log.Fatalf("submit job: %v", err)
	}
	job, err = client.WaitForJob(ctx, job.ID, time.Second)
	if err != nil {
		log.Fatalf("wait for job %s: %v", job.ID, err)
	}
	if job.Status == "failed" {
		log.Fatalf("job %s failed [%s]: %s", job.ID, job.ErrorCode, job.Error)
	}
	fmt.Println(job.Answer)
}
