package salesforce

import "context"

// Describe implements API.
func (c *Connection) Describe(ctx context.Context, object string) (*DescribeResult, error) {
	var out DescribeResult
	if err := c.getJSON(ctx, "describe", c.dataPath("sobjects", object, "describe"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DescribeGlobal implements API.
func (c *Connection) DescribeGlobal(ctx context.Context) (*DescribeGlobalResult, error) {
	var out DescribeGlobalResult
	if err := c.getJSON(ctx, "describe_global", c.dataPath("sobjects"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
