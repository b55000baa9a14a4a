package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
)

const contentTypeJSON = "application/json"

// Config 描述连接 Bedrock Runtime 所需的信息。
type Config struct {
	Region string
	// Endpoint 非空时覆盖默认的服务地址，便于接入私有网关或本地模拟服务。
	Endpoint string
}

// runtimeAPI 是 Client 依赖的 Bedrock Runtime 能力子集。
type runtimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client 通过 InvokeModel 调用 Bedrock 上托管的模型。
type Client struct {
	api runtimeAPI
}

// NewClient 使用默认的 AWS 凭证链创建客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, errors.New("未配置 AWS region")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	api := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{api: api}, nil
}

// InvokeModel 实现 llm.Invoker 接口。
func (c *Client) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	if c == nil || c.api == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "bedrock client is not initialized")
	}
	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String(contentTypeJSON),
		Accept:      aws.String(contentTypeJSON),
	})
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeBackendInvocation, err, "bedrock InvokeModel failed",
			xerrors.WithMetadata("model_id", modelID))
	}
	if out == nil {
		return nil, xerrors.New(llm.CodeBackendInvocation, "bedrock InvokeModel returned no output")
	}
	return out.Body, nil
}
