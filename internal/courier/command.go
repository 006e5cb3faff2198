package courier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/pedidos/internal/orders"
)

// commandPrefixes are the characters that mark a message as a command.
var commandPrefixes = []string{"/", ".", "!"}

// Saver commits an order-book snapshot to durable storage. Implemented by
// storage.Manager.
type Saver interface {
	Save(snap orders.Snapshot) error
}

// Health is a point-in-time view of the bot's condition, used by the stats
// and salud commands and the dashboard.
type Health struct {
	Status           string
	Uptime           time.Duration
	MessagesReceived int
	MessagesSent     int
	CommandsExecuted int
	Errors           int
	LastActivity     time.Time
}

// HealthProvider supplies the bot health view. Implemented by the Daemon.
type HealthProvider interface {
	Health() Health
}

// CommandHandler translates inbound command text into order-store operations
// and builds the reply text. Mutations are durably saved before the reply is
// handed back for dispatch, so an acknowledged command is never lost to a
// crash.
type CommandHandler struct {
	store      *orders.Store
	saver      Saver
	dispatcher *Dispatcher
	health     HealthProvider
	log        zerolog.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Store      *orders.Store
	Saver      Saver
	Dispatcher *Dispatcher
	Health     HealthProvider // optional; stats/salud degrade without it
	Logger     zerolog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("courier: command handler: store is required")
	}
	if opts.Saver == nil {
		return nil, fmt.Errorf("courier: command handler: saver is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("courier: command handler: dispatcher is required")
	}
	return &CommandHandler{
		store:      opts.Store,
		saver:      opts.Saver,
		dispatcher: opts.Dispatcher,
		health:     opts.Health,
		log:        opts.Logger,
	}, nil
}

// IsCommand reports whether text starts with a recognized command prefix.
func IsCommand(text string) bool {
	for _, p := range commandPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// parseCommand strips the prefix and splits the text into the command name
// and the remaining argument words.
func parseCommand(text string) (cmd string, args []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	for _, p := range commandPrefixes {
		if strings.HasPrefix(text, p) {
			text = text[len(p):]
			break
		}
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// Execute parses and runs one command from msg. Returns the reply text to
// send back to the group.
func (ch *CommandHandler) Execute(ctx context.Context, msg InboundMessage) string {
	cmd, args := parseCommand(msg.Text)

	switch cmd {
	case "ayuda", "help":
		start, end := ch.dispatcher.WorkingHours()
		return formatHelp(start, end)
	case "nuevo", "pedido":
		return ch.cmdNuevo(msg, args)
	case "lista", "pedidos":
		return ch.cmdLista()
	case "estado":
		return ch.cmdEstado(ctx, msg, args)
	case "info":
		return ch.cmdInfo(args)
	case "stats", "estadisticas":
		return ch.cmdStats()
	case "salud", "status":
		return ch.cmdSalud()
	default:
		return fmt.Sprintf("❓ Comando no reconocido: `%s`\n💡 Usa */ayuda* para ver comandos disponibles", cmd)
	}
}

// cmdNuevo creates an order from the sender's description.
func (ch *CommandHandler) cmdNuevo(msg InboundMessage, args []string) string {
	description := strings.Join(args, " ")
	o, err := ch.store.Create(description, msg.SenderName, msg.SenderID)
	if err != nil {
		var ve *orders.ValidationError
		if errors.As(err, &ve) {
			return "❌ *Formato incorrecto*\n\n📝 Uso: `/nuevo [descripción]`\n💡 Ejemplo: `/nuevo Camiseta M azul diseño personalizado`"
		}
		ch.log.Error().Err(err).Msg("courier: create order")
		return "❌ Error creando el pedido. Inténtalo de nuevo."
	}

	ch.persist()
	return formatOrderCreated(o)
}

// cmdLista lists the active orders.
func (ch *CommandHandler) cmdLista() string {
	return formatActiveOrders(ch.store.ListActive())
}

// cmdEstado changes an order's status. Admin only; the store mutation is
// saved before the confirmation is returned, and the direct customer
// notification is best-effort — its failure never rolls back the change.
func (ch *CommandHandler) cmdEstado(ctx context.Context, msg InboundMessage, args []string) string {
	if len(args) < 2 {
		return "❌ *Formato incorrecto*\n\n📝 Uso: `/estado [ID] [nuevo_estado]`\n💡 Ejemplo: `/estado 001 confirmado`"
	}
	if !msg.IsAdmin {
		return "❌ Solo administradores pueden cambiar estados de pedidos"
	}

	id := args[0]
	newStatus := strings.Join(args[1:], " ")

	o, prev, err := ch.store.ChangeStatus(id, newStatus, msg.SenderName)
	if err != nil {
		var ise *orders.InvalidStatusError
		if errors.As(err, &ise) {
			return formatInvalidStatus()
		}
		var nfe *orders.NotFoundError
		if errors.As(err, &nfe) {
			return formatNotFound(id)
		}
		ch.log.Error().Err(err).Str("order", id).Msg("courier: change status")
		return "❌ Error actualizando el pedido. Inténtalo de nuevo."
	}

	ch.persist()
	ch.notifyCustomer(ctx, o)
	return formatStatusChanged(o, prev, msg.SenderName)
}

// cmdInfo shows the full detail of one order.
func (ch *CommandHandler) cmdInfo(args []string) string {
	if len(args) == 0 {
		return "❌ *ID requerido*\n\n📝 Uso: `/info [ID]`\n💡 Ejemplo: `/info 001`"
	}
	o, err := ch.store.Get(args[0])
	if err != nil {
		return formatNotFound(args[0])
	}
	return formatOrderInfo(o)
}

// cmdStats builds the aggregate statistics reply.
func (ch *CommandHandler) cmdStats() string {
	h := ch.healthView()
	hist := ch.store.StatusHistogram()
	count, limit := ch.dispatcher.HourlyUsage()

	var b strings.Builder
	b.WriteString("📊 *ESTADÍSTICAS*\n\n")
	fmt.Fprintf(&b, "⏰ *Tiempo activo:* %s\n", formatUptime(h.Uptime))
	fmt.Fprintf(&b, "📩 *Mensajes recibidos:* %d\n", h.MessagesReceived)
	fmt.Fprintf(&b, "📤 *Mensajes enviados:* %d\n", h.MessagesSent)
	fmt.Fprintf(&b, "🔧 *Comandos ejecutados:* %d\n", h.CommandsExecuted)
	fmt.Fprintf(&b, "❌ *Errores:* %d\n\n", h.Errors)

	b.WriteString("📋 *PEDIDOS:*\n")
	fmt.Fprintf(&b, "• Total: %d\n", ch.store.TotalCount())
	fmt.Fprintf(&b, "• Activos: %d\n", ch.store.ActiveCount())
	fmt.Fprintf(&b, "• Entregados: %d\n", hist[orders.StatusEntregado])
	fmt.Fprintf(&b, "• Cancelados: %d\n\n", hist[orders.StatusCancelado])

	b.WriteString("📊 *POR ESTADO:*\n")
	for _, st := range orders.AllStatuses {
		if n := hist[st]; n > 0 {
			fmt.Fprintf(&b, "• %s %s: %d\n", emojiFor(st), st, n)
		}
	}

	fmt.Fprintf(&b, "\n🔋 *Estado:* %s\n", h.Status)
	fmt.Fprintf(&b, "📈 *Límite/hora:* %d/%d", count, limit)
	return b.String()
}

// cmdSalud builds the bot-health reply.
func (ch *CommandHandler) cmdSalud() string {
	h := ch.healthView()
	count, limit := ch.dispatcher.HourlyUsage()
	start, end := ch.dispatcher.WorkingHours()

	var b strings.Builder
	b.WriteString("🏥 *ESTADO DE SALUD DEL BOT*\n\n")
	fmt.Fprintf(&b, "✅ *Estado general:* %s\n", h.Status)
	fmt.Fprintf(&b, "⏰ *Tiempo activo:* %s\n", formatUptime(h.Uptime))
	rendimiento := "Óptimo"
	if h.Errors > 0 {
		rendimiento = "Con errores"
	}
	fmt.Fprintf(&b, "📊 *Rendimiento:* %s\n\n", rendimiento)

	b.WriteString("📈 *Actividad última hora:*\n")
	fmt.Fprintf(&b, "• Mensajes enviados: %d/%d\n", count, limit)
	fmt.Fprintf(&b, "• Comandos ejecutados: %d\n", h.CommandsExecuted)
	fmt.Fprintf(&b, "• Errores registrados: %d\n\n", h.Errors)

	fmt.Fprintf(&b, "🕐 *Horario de servicio:* %d:00 - %d:00\n", start, end)
	if ch.dispatcher.InWorkingHours() {
		b.WriteString("🟢 En horario de servicio")
	} else {
		b.WriteString("🟡 Fuera de horario")
	}
	return b.String()
}

// healthView returns the provider's health or a zero view when none is wired.
func (ch *CommandHandler) healthView() Health {
	if ch.health == nil {
		return Health{Status: "desconocido"}
	}
	return ch.health.Health()
}

// persist flushes the store snapshot. Failures are logged and retried on the
// next mutation; the in-memory store stays authoritative for this process.
func (ch *CommandHandler) persist() {
	if err := ch.saver.Save(ch.store.Snapshot()); err != nil {
		ch.log.Error().Err(err).Msg("courier: save snapshot")
	}
}

// notifyCustomer pushes the status update directly to the customer's own
// address. Best-effort: suppression or failure is logged, never surfaced to
// the group and never rolled back.
func (ch *CommandHandler) notifyCustomer(ctx context.Context, o *orders.Order) {
	if o.CustomerContact == "" {
		return
	}
	res := ch.dispatcher.Send(ctx, o.CustomerContact, formatCustomerNotice(o), false)
	if !res.Sent {
		ch.log.Info().
			Str("order", o.ID).
			Str("reason", res.Reason).
			Msg("courier: customer notification not delivered")
	}
}
