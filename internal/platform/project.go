package platform

import (
	"context"
	"fmt"
)

// FetchProjectByID fetches a single project by id.
func FetchProjectByID(ctx context.Context, c *Client, id int) (*Project, error) {
	var p Project
	if _, err := c.Call(ctx, Command{Verb: GET, Endpoint: fmt.Sprintf("/projects/%d", id)}, 0, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchProjectsMine lists every project the bot is a member of, optionally
// gated by minAccessLevel when caps supports the filter server-side
// (falling back to a client-side filter otherwise).
func FetchProjectsMine(ctx context.Context, c *Client, caps Capabilities, minAccessLevel AccessLevel) ([]*Project, error) {
	args := map[string]any{"membership": true}
	if caps.MinAccessLevelFilter() {
		args["min_access_level"] = int(minAccessLevel)
	}
	projects, err := CollectAllPages(ctx, func(ctx context.Context, page, perPage int) ([]*Project, error) {
		var batch []*Project
		callArgs := map[string]any{"page": page, "per_page": perPage}
		for k, v := range args {
			callArgs[k] = v
		}
		_, err := c.Call(ctx, Command{Verb: GET, Endpoint: "/projects", Args: callArgs}, 0, &batch)
		return batch, err
	})
	if err != nil {
		return nil, err
	}
	if caps.MinAccessLevelFilter() {
		return projects, nil
	}
	filtered := projects[:0]
	for _, p := range projects {
		if p.AccessLevel >= minAccessLevel {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// FetchBranch fetches a single named branch.
func FetchBranch(ctx context.Context, c *Client, projectID int, name string) (*Branch, error) {
	var b Branch
	if _, err := c.Call(ctx, Command{
		Verb:     GET,
		Endpoint: fmt.Sprintf("/projects/%d/repository/branches/%s", projectID, name),
	}, 0, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// FetchMyself fetches the currently-authenticated user. Some older
// platform versions omit is_admin from this endpoint for non-admins; a
// caller that needs a reliable is_admin probe should treat a 403 from an
// admin-only endpoint as the authoritative signal instead.
func FetchMyself(ctx context.Context, c *Client) (*User, error) {
	var u User
	if _, err := c.Call(ctx, Command{Verb: GET, Endpoint: "/user"}, 0, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchUserByID fetches a user by id.
func FetchUserByID(ctx context.Context, c *Client, id int) (*User, error) {
	var u User
	if _, err := c.Call(ctx, Command{Verb: GET, Endpoint: fmt.Sprintf("/users/%d", id)}, 0, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
