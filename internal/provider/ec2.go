package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/pkg/logging"
)

// EC2API is the subset of the EC2 client the provider calls.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, params *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error)
}

// EC2Provider implements Provider against AWS EC2.
type EC2Provider struct {
	client EC2API
	logger *logging.Logger
}

// NewEC2Provider builds a client from the default AWS credential chain.
func NewEC2Provider(ctx context.Context, cfg *config.ProviderConfig, logger *logging.Logger) (*EC2Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewEC2ProviderWithClient(ec2.NewFromConfig(awsCfg), logger), nil
}

// NewEC2ProviderWithClient wraps an existing client.
func NewEC2ProviderWithClient(client EC2API, logger *logging.Logger) *EC2Provider {
	return &EC2Provider{
		client: client,
		logger: logger.With("component", "ec2"),
	}
}

// RunInstance launches exactly one instance.
func (p *EC2Provider) RunInstance(ctx context.Context, spec domain.LaunchSpec) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.ClientToken != "" {
		input.ClientToken = aws.String(spec.ClientToken)
	}

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("run instances: %w", err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", errors.New("run instances: empty response")
	}

	id := aws.ToString(out.Instances[0].InstanceId)
	p.logger.Debug("instance launched", "instanceID", id, "instanceType", spec.InstanceType)
	return id, nil
}

// TerminateInstances requests termination of the given instances.
func (p *EC2Provider) TerminateInstances(ctx context.Context, ids []string) error {
	if _, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil {
		return p.mapError("terminate instances", err)
	}
	return nil
}

// DescribeInstances pages through every matching reservation.
func (p *EC2Provider) DescribeInstances(ctx context.Context, filters []domain.Filter) ([]domain.Instance, error) {
	input := &ec2.DescribeInstancesInput{Filters: toEC2Filters(filters)}
	paginator := ec2.NewDescribeInstancesPaginator(p.client, input)

	var out []domain.Instance
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				out = append(out, fromEC2Instance(inst))
			}
		}
	}
	return out, nil
}

// DescribeInstanceStatus returns state and the instance status check summary.
func (p *EC2Provider) DescribeInstanceStatus(ctx context.Context, id string) (*domain.InstanceStatus, error) {
	out, err := p.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{id},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return nil, p.mapError("describe instance status", err)
	}
	if len(out.InstanceStatuses) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}

	st := out.InstanceStatuses[0]
	status := &domain.InstanceStatus{ID: id, Reachability: ReachabilityNotApplicable}
	if st.InstanceState != nil {
		status.State = domain.InstanceState(st.InstanceState.Name)
	}
	if st.InstanceStatus != nil && st.InstanceStatus.Status != "" {
		status.Reachability = string(st.InstanceStatus.Status)
	}
	return status, nil
}

// CreateTags adds or overwrites tags.
func (p *EC2Provider) CreateTags(ctx context.Context, ids []string, tags domain.Tags) error {
	ec2Tags := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	if _, err := p.client.CreateTags(ctx, &ec2.CreateTagsInput{Resources: ids, Tags: ec2Tags}); err != nil {
		return p.mapError("create tags", err)
	}
	return nil
}

// DeleteTags removes tag keys regardless of their value.
func (p *EC2Provider) DeleteTags(ctx context.Context, ids []string, keys []string) error {
	ec2Tags := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k)})
	}
	if _, err := p.client.DeleteTags(ctx, &ec2.DeleteTagsInput{Resources: ids, Tags: ec2Tags}); err != nil {
		return p.mapError("delete tags", err)
	}
	return nil
}

// mapError turns EC2's not-found codes into domain.ErrInstanceNotFound.
func (p *EC2Provider) mapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
			return fmt.Errorf("%s: %w: %v", op, domain.ErrInstanceNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toEC2Filters(filters []domain.Filter) []types.Filter {
	out := make([]types.Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, types.Filter{Name: aws.String(f.Name), Values: f.Values})
	}
	return out
}

func fromEC2Instance(inst types.Instance) domain.Instance {
	out := domain.Instance{
		ID:           aws.ToString(inst.InstanceId),
		InstanceType: string(inst.InstanceType),
		Tags:         make(domain.Tags, len(inst.Tags)),
	}
	if inst.State != nil {
		out.State = domain.InstanceState(inst.State.Name)
	}
	if inst.LaunchTime != nil {
		out.LaunchTime = inst.LaunchTime.UTC()
	}
	for _, tag := range inst.Tags {
		out.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}

// Compile-time check that EC2Provider implements Provider
var _ Provider = (*EC2Provider)(nil)
