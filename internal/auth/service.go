package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/storage"
	"CoinKeep/internal/wallet"
	"CoinKeep/internal/web3"
	"CoinKeep/pkg/logger"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Service is the mock authentication layer. Nothing is verified: the stored
// record only remembers who claimed to log in.
type Service struct {
	kv    storage.KV
	key   string
	cfg   Config
	now   func() time.Time
	nonce func() string
	log   *slog.Logger
	audit *slog.Logger
}

// NewService builds the service storing users under key.
func NewService(kv storage.KV, key string, cfg Config) *Service {
	return &Service{
		kv:    kv,
		key:   key,
		cfg:   cfg,
		now:   time.Now,
		nonce: newNonce,
		log:   logger.Named("auth"),
		audit: logger.Audit(),
	}
}

// Login stores an email/organisation session.
func (s *Service) Login(ctx context.Context, email, org string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, xerrors.New(xerrors.CodeInvalidArgument, "Email is required")
	}
	user := User{Email: email, Org: strings.TrimSpace(org), LoggedInAt: s.now().UnixMilli()}
	if err := s.save(ctx, user); err != nil {
		return User{}, err
	}
	s.audit.Info("login", "method", "email", "email", user.Email, "org", user.Org)
	return user, nil
}

// SignInWithEthereum asks the provider for an account, builds an EIP-4361
// message and has the wallet sign it. The signature is stored as-is.
func (s *Service) SignInWithEthereum(ctx context.Context, provider web3.Provider) (User, error) {
	if provider == nil {
		return User{}, xerrors.New(wallet.CodeProviderUnavailable, "")
	}

	var accounts []string
	if err := web3.RequestInto(ctx, provider, &accounts, web3.MethodRequestAccounts); err != nil {
		return User{}, xerrors.Wrap(wallet.CodeProviderRejected, err, "请求钱包账户失败")
	}
	if len(accounts) == 0 {
		return User{}, xerrors.New(wallet.CodeProviderRejected, "wallet returned no accounts")
	}
	address, err := web3.ChecksumAddress(accounts[0])
	if err != nil {
		return User{}, xerrors.Wrap(wallet.CodeProviderRejected, err, "钱包返回了无效地址")
	}

	var rawChain string
	if err := web3.RequestInto(ctx, provider, &rawChain, web3.MethodChainID); err != nil {
		return User{}, xerrors.Wrap(wallet.CodeProviderRejected, err, "读取链 ID 失败")
	}
	chainID, err := web3.ParseChainID(rawChain)
	if err != nil {
		return User{}, xerrors.Wrap(wallet.CodeProviderRejected, err, "链 ID 格式错误")
	}

	msg := Message{
		Domain:    s.cfg.Domain,
		Address:   address,
		Statement: s.cfg.Statement,
		URI:       s.cfg.URI,
		Version:   siweVersion,
		ChainID:   chainID,
		Nonce:     s.nonce(),
		IssuedAt:  s.now(),
	}
	text := msg.String()

	var signature string
	if err := web3.RequestInto(ctx, provider, &signature, web3.MethodPersonalSign, hexutil.Encode([]byte(text)), address); err != nil {
		return User{}, xerrors.Wrap(wallet.CodeProviderRejected, err, "签名被拒绝")
	}

	user := User{Address: address, Signature: signature, SIWE: text, LoggedInAt: s.now().UnixMilli()}
	if err := s.save(ctx, user); err != nil {
		return User{}, err
	}
	s.audit.Info("login", "method", "siwe", "address", address, "chain_id", chainID)
	return user, nil
}

// Current returns the stored user. A missing or unreadable record means
// logged out.
func (s *Service) Current(ctx context.Context) (User, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.log.Error("读取登录信息失败", "error", err)
		return User{}, false
	}
	if !ok || raw == "" {
		return User{}, false
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		parseErr := xerrors.Wrap(xerrors.CodeStorageParseFailure, err, "登录信息无法解析，按未登录处理")
		s.log.Warn(parseErr.Message(), "key", s.key, "error", parseErr)
		return User{}, false
	}
	return user, true
}

// Logout removes the stored user. Storage errors are logged only.
func (s *Service) Logout(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.log.Error("删除登录信息失败", "error", err)
		return
	}
	s.audit.Info("logout")
}

func (s *Service) save(ctx context.Context, user User) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化登录信息失败")
	}
	if err := s.kv.Set(ctx, s.key, string(encoded)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存登录信息失败")
	}
	return nil
}
