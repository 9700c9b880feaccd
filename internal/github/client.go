// Package github предоставляет клиент для API платформы аккаунтов.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

const userAgent = "sponsorlink-system/1.0"

// OAuthApp содержит учётные данные OAuth-приложения одного вида.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
}

// User описывает аккаунт пользователя по данным API.
type User struct {
	NodeID string `json:"node_id"`
	Login  string `json:"login"`
	Email  string `json:"email"`
}

// Email описывает один адрес электронной почты пользователя.
type Email struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Primary  bool   `json:"primary"`
}

// Client инкапсулирует HTTP-взаимодействие с платформой аккаунтов.
type Client struct {
	webURL     string
	apiURL     string
	httpClient *retryablehttp.Client
	apps       map[model.AppKind]OAuthApp
	issuer     *TokenIssuer
}

// NewClient создаёт HTTP-клиент платформы. issuer может быть nil, тогда запрос
// обмена кода выполняется без сервисного токена.
func NewClient(webURL, apiURL string, apps map[model.AppKind]OAuthApp, issuer *TokenIssuer) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = 10 * time.Second

	return &Client{
		webURL:     strings.TrimRight(webURL, "/"),
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: httpClient,
		apps:       apps,
		issuer:     issuer,
	}
}

type exchangeRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
}

// ExchangeCode обменивает код авторизации на токен доступа пользователя.
func (c *Client) ExchangeCode(ctx context.Context, kind model.AppKind, code string) (string, error) {
	app, ok := c.apps[kind]
	if !ok {
		return "", fmt.Errorf("no oauth app configured for kind %q", kind)
	}

	body, err := json.Marshal(exchangeRequest{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Code:         code,
	})
	if err != nil {
		return "", fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.webURL+"/login/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.issuer != nil {
		jwt, err := c.issuer.IssueServiceToken(kind)
		if err != nil {
			return "", fmt.Errorf("issue service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var data exchangeResponse
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if data.AccessToken == "" {
		return "", fmt.Errorf("oauth response did not contain an access token")
	}

	return data.AccessToken, nil
}

// CurrentUser возвращает аккаунт пользователя, которому принадлежит токен.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/user", accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser возвращает аккаунт пользователя по логину.
func (c *Client) GetUser(ctx context.Context, accessToken, login string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/users/"+login, accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListEmails возвращает адреса электронной почты пользователя.
func (c *Client) ListEmails(ctx context.Context, accessToken string) ([]Email, error) {
	var emails []Email
	if err := c.getJSON(ctx, "/user/emails", accessToken, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

const organizationsQuery = `query { viewer { organizations(first: 100) { nodes { id login } } } }`

type organizationsResponse struct {
	Data struct {
		Viewer struct {
			Organizations struct {
				Nodes []struct {
					ID    string `json:"id"`
					Login string `json:"login"`
				} `json:"nodes"`
			} `json:"organizations"`
		} `json:"viewer"`
	} `json:"data"`
}

// ListOrganizations возвращает организации, в которых состоит пользователь.
func (c *Client) ListOrganizations(ctx context.Context, accessToken string) ([]model.AccountID, error) {
	body, err := json.Marshal(map[string]string{"query": organizationsQuery})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var data organizationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var res []model.AccountID
	for _, node := range data.Data.Viewer.Organizations.Nodes {
		if node.ID == "" {
			continue
		}
		res = append(res, model.AccountID{ID: node.ID, Login: node.Login})
	}

	return res, nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
