package checkout

import "go.uber.org/fx"

// Module exposes the checkout initiators via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
