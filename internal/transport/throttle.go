package transport

import (
	"context"
)

// Permits 出站调用许可
type Permits interface {
	WaitGeneral(ctx context.Context) error
	WaitEdit(ctx context.Context) error
}

// Throttled 在每次调用前获取许可的消息通道装饰器
//
// Edit 使用编辑预算，其余调用使用普通预算。等待是阻塞的，只有ctx结束才返回错误。
type Throttled struct {
	next    Messenger
	permits Permits
}

// Throttle 创建限流装饰器
func Throttle(next Messenger, permits Permits) *Throttled {
	return &Throttled{next: next, permits: permits}
}

func (t *Throttled) Send(ctx context.Context, chatID int64, text string, opts SendOptions) (MessageRef, error) {
	if err := t.permits.WaitGeneral(ctx); err != nil {
		return MessageRef{}, err
	}
	return t.next.Send(ctx, chatID, text, opts)
}

func (t *Throttled) Edit(ctx context.Context, ref MessageRef, text string, mode ParseMode) error {
	if err := t.permits.WaitEdit(ctx); err != nil {
		return err
	}
	return t.next.Edit(ctx, ref, text, mode)
}

func (t *Throttled) Delete(ctx context.Context, ref MessageRef) error {
	if err := t.permits.WaitGeneral(ctx); err != nil {
		return err
	}
	return t.next.Delete(ctx, ref)
}

func (t *Throttled) SendPhoto(ctx context.Context, chatID int64, data []byte, opts SendOptions) (MessageRef, error) {
	if err := t.permits.WaitGeneral(ctx); err != nil {
		return MessageRef{}, err
	}
	return t.next.SendPhoto(ctx, chatID, data, opts)
}

func (t *Throttled) Download(ctx context.Context, fileID string) ([]byte, error) {
	if err := t.permits.WaitGeneral(ctx); err != nil {
		return nil, err
	}
	return t.next.Download(ctx, fileID)
}
